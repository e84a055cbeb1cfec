package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/config"
	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/events"
	"github.com/Charitha2009/chronicle/internal/narrative"
	"github.com/Charitha2009/chronicle/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Bus      events.Bus
	Config   *config.Config
	Narrator *narrative.Narrator
	Log      logrus.FieldLogger
	Now      func() time.Time
	// Entropy feeds campaign code generation; crypto/rand when nil.
	Entropy io.Reader
}

// New builds an engine whose narrator always falls back until a generator is set.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logrus.StandardLogger()
	narrator := narrative.NewNarrator(nil, log)
	narrator.ValidGenre = domain.ValidGenre
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db, Now: time.Now},
		Config:   cfg,
		Narrator: narrator,
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// eventLog returns the change log writer stamped with the engine clock.
func (e Engine) eventLog() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// publish forwards committed events to live subscribers. Delivery failures
// are logged only; the change log is the source of truth.
func (e Engine) publish(ctx context.Context, evts ...domain.Event) {
	if e.Bus == nil {
		return
	}
	for _, evt := range evts {
		if err := e.Bus.Publish(ctx, evt); err != nil {
			e.log().WithError(err).WithFields(logrus.Fields{"event_id": evt.ID, "type": evt.Type}).Warn("publish event")
		}
	}
}

// normalizeCode accepts codes typed in any case.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// loadCampaign maps a missing row to a not_found rejection.
func (e Engine) loadCampaign(ctx context.Context, tx *sql.Tx, code string) (domain.Campaign, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.Campaign{}, reject(KindValidation, "campaign code is required")
	}
	c, err := e.Repo.GetCampaign(ctx, tx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return c, reject(KindNotFound, "campaign %s not found", code)
	}
	if err != nil {
		return c, fmt.Errorf("load campaign %s: %w", code, err)
	}
	return c, nil
}

func (e Engine) loadCharacter(ctx context.Context, tx *sql.Tx, id int64) (domain.Character, error) {
	if id <= 0 {
		return domain.Character{}, reject(KindValidation, "character id is required")
	}
	ch, err := e.Repo.GetCharacter(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ch, reject(KindNotFound, "character %d not found", id)
	}
	if err != nil {
		return ch, fmt.Errorf("load character %d: %w", id, err)
	}
	return ch, nil
}

func (e Engine) loadTurn(ctx context.Context, tx *sql.Tx, id int64) (domain.Turn, error) {
	if id <= 0 {
		return domain.Turn{}, reject(KindValidation, "turn id is required")
	}
	t, err := e.Repo.GetTurn(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, reject(KindNotFound, "turn %d not found", id)
	}
	if err != nil {
		return t, fmt.Errorf("load turn %d: %w", id, err)
	}
	return t, nil
}

func (e Engine) roster(ctx context.Context, code string, lockedOnly bool) ([]narrative.Member, error) {
	chars, err := e.Repo.ListCharacters(ctx, nil, repo.CharacterFilters{CampaignCode: code, LockedOnly: lockedOnly})
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	members := make([]narrative.Member, 0, len(chars))
	for _, ch := range chars {
		members = append(members, narrative.Member{ID: ch.ID, Name: ch.Name, Archetype: ch.Archetype})
	}
	return members, nil
}
