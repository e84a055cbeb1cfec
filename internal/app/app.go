package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/config"
	"github.com/Charitha2009/chronicle/internal/db"
	"github.com/Charitha2009/chronicle/internal/engine"
	"github.com/Charitha2009/chronicle/internal/events"
	"github.com/Charitha2009/chronicle/internal/migrate"
	"github.com/Charitha2009/chronicle/internal/narrative"
)

// Options selects the collaborators an App is built from. Empty fields fall
// back to local defaults: the workspace database, an in-process bus and the
// fallback narrator.
type Options struct {
	Workspace string
	DBPath    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OpenAIKey     string
	OpenAIBaseURL string

	Log logrus.FieldLogger
}

// App holds the wired dependencies shared by the server and the CLI.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Bus    events.Bus
	Log    logrus.FieldLogger
}

// ResolveConfig loads chronicle.yml from the workspace, using the built-in
// rules when the file is absent.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open connects storage, applies migrations and wires the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg, err := ResolveConfig(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if v, err := migrate.Version(ctx, conn); err == nil {
		log.WithField("schema_version", v).Debug("database ready")
	}

	var bus events.Bus
	if opts.RedisAddr != "" {
		rb, err := events.NewRedisBus(ctx, events.RedisConfig{Addr: opts.RedisAddr, Password: opts.RedisPassword, DB: opts.RedisDB}, log)
		if err != nil {
			conn.Close()
			return nil, err
		}
		bus = rb
		log.WithField("addr", opts.RedisAddr).Info("change feed on redis")
	} else {
		bus = events.NewMemoryBus()
	}

	eng := engine.New(conn, cfg)
	eng.Log = log
	eng.Bus = bus
	eng.Narrator.Log = log
	eng.Narrator.Timeout = cfg.NarrativeTimeout()
	if gen := newGenerator(cfg, opts); gen != nil {
		eng.Narrator.Gen = gen
		log.WithField("model", cfg.Narrative.Model).Info("narrative generation enabled")
	} else {
		log.Warn("no OpenAI key configured; narrative uses fallback content")
	}

	return &App{DB: conn, Config: cfg, Engine: eng, Bus: bus, Log: log}, nil
}

// newGenerator returns a nil interface when no key is configured so the
// narrator reports itself unavailable.
func newGenerator(cfg *config.Config, opts Options) narrative.Generator {
	client := narrative.NewOpenAI(narrative.OpenAIConfig{
		APIKey:           opts.OpenAIKey,
		BaseURL:          opts.OpenAIBaseURL,
		Model:            cfg.Narrative.Model,
		GenreTemperature: cfg.Narrative.GenreTemperature,
		SceneTemperature: cfg.Narrative.SceneTemperature,
		GenreMaxTokens:   cfg.Narrative.GenreMaxTokens,
		SceneMaxTokens:   cfg.Narrative.SceneMaxTokens,
	})
	if client == nil {
		return nil
	}
	return client
}

func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
