package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Charitha2009/chronicle/internal/app"
	"github.com/Charitha2009/chronicle/internal/config"
	"github.com/Charitha2009/chronicle/internal/db"
	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine"
	"github.com/Charitha2009/chronicle/internal/engine/auth"
	"github.com/Charitha2009/chronicle/internal/repo"
	"github.com/Charitha2009/chronicle/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "chronicle",
	Short: "Chronicle collaborative storytelling server",
	Long: `Chronicle runs turn-based story campaigns.
- Campaign: a story with a six character join code. Status moves lobby -> character_select -> starting -> active -> ended and never back.
- Characters: players claim a name and archetype, then lock it; locked characters are final.
- Turns: each turn carries one resolution with exactly three hooks; players vote for the hook the story follows next.
- Narrative: with an OpenAI key the scenes are generated, otherwise fixed fallback scenes are used.
- Event log: every change is recorded; view it with 'chronicle log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// a missing .env is fine; real env vars still apply
	_ = godotenv.Load()
	viper.SetEnvPrefix("CHRONICLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.String("db", "", "database file (defaults to <workspace>/.chronicle/chronicle.db)")
	pf.Bool("json", false, "output JSON")
	pf.String("user-id", "local-user", "user identity for CLI operations")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("openai-key", "", "OpenAI API key; fallback narrative when empty")
	pf.String("openai-base-url", "", "override OpenAI base URL")
	pf.String("redis-addr", "", "Redis address for the change feed; in-process when empty")
	pf.String("redis-password", "", "Redis password")
	pf.Int("redis-db", 0, "Redis database")
	pf.String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "db", "json", "user-id", "log-level", "log-format", "openai-key", "openai-base-url", "redis-addr", "redis-password", "redis-db", "jwt-secret"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(turnCmd())
	rootCmd.AddCommand(votesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

func newLogger() (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	if viper.GetString("log-format") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)
	return log, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := viper.GetString("jwt-secret")
				if secret == "" && devAuth {
					secret = "chronicle-dev-secret"
					a.Log.Warn("no jwt secret configured; using the built-in dev secret")
				}
				if secret == "" {
					return fmt.Errorf("CHRONICLE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:         a.Engine,
					BasePath:       basePath,
					Auth:           server.AuthConfig{JWTSecret: secret, DevMode: devAuth},
					AllowedOrigins: origins,
					Log:            a.Log,
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, a.Engine, a.Log)
				server.StartRecovery(ctx, a.Engine, a.Log)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath, "dev_auth": devAuth}).
					Infof("serving Chronicle API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "enable dev login and the X-User-Id header")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origin (repeatable)")
	return cmd
}

func campaignCmd() *cobra.Command {
	c := &cobra.Command{Use: "campaign", Short: "Manage campaigns"}
	c.AddCommand(campaignListCmd())
	c.AddCommand(campaignShowCmd())
	c.AddCommand(campaignCreateCmd())
	c.AddCommand(campaignResumeCmd())
	return c
}

func campaignListCmd() *cobra.Command {
	var f repo.CampaignFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListCampaigns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Genre", "Status", "Players", "Host", "Updated"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Code, c.Title, c.Genre, c.Status, c.MaxPlayers, c.HostUserID, c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.HostID, "host", "", "host user filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum campaigns")
	return cmd
}

func campaignShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <code>",
		Short: "Show a campaign with its roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.GetCampaign(ctx, args[0])
				if err != nil {
					return err
				}
				chars, err := a.Engine.ListCharacters(ctx, c.Code)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"campaign": c, "characters": chars})
				}
				fmt.Printf("Campaign %s: %s (%s)\n", c.Code, c.Title, c.Genre)
				fmt.Printf("Status: %s", c.Status)
				if c.StartStep != "" {
					fmt.Printf(" (pending step %s)", c.StartStep)
				}
				fmt.Printf("\nHost: %s, max players %d\n", c.HostUserID, c.MaxPlayers)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Archetype", "User", "Locked"})
				for _, ch := range chars {
					tw.AppendRow(table.Row{ch.ID, ch.Name, ch.Archetype, ch.UserID, ch.IsLocked})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func campaignCreateCmd() *cobra.Command {
	var opts engine.CreateCampaignOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign hosted by --user-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.HostID = viper.GetString("user-id")
				c, err := a.Engine.CreateCampaign(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "campaign title")
	cmd.Flags().StringVar(&opts.Genre, "genre", "", "genre ("+strings.Join(domain.Genres, ", ")+")")
	cmd.Flags().IntVar(&opts.MaxPlayers, "max-players", 0, "player limit (config default when 0)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("genre")
	return cmd
}

func campaignResumeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "resume [code]",
		Short: "Resume interrupted starts",
		Long:  "With a code, resumes that campaign's start. Without one, resumes every campaign stuck in starting for longer than --older-than.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					res, err := a.Engine.ResumeStart(ctx, args[0], auth.SystemActor)
					if err != nil {
						return err
					}
					return printJSON(res)
				}
				outcomes, err := a.Engine.RecoverStalled(ctx, olderThan)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := make([]map[string]any, 0, len(outcomes))
					for _, o := range outcomes {
						out = append(out, map[string]any{"code": o.Code, "step": o.Step, "error": errString(o.Err)})
					}
					return printJSON(out)
				}
				if len(outcomes) == 0 {
					fmt.Println("no stalled campaigns")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Step", "Result"})
				for _, o := range outcomes {
					result := "active"
					if o.Err != nil {
						result = o.Err.Error()
					}
					tw.AppendRow(table.Row{o.Code, o.Step, result})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 2*time.Minute, "minimum time spent in starting")
	return cmd
}

func turnCmd() *cobra.Command {
	t := &cobra.Command{Use: "turn", Short: "Inspect turns"}
	t.AddCommand(turnListCmd())
	return t
}

func turnListCmd() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a campaign's turns with their resolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				scenes, err := a.Engine.ListTurns(ctx, code)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(scenes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Index", "Ends", "Source", "Summary"})
				for _, s := range scenes {
					source := ""
					if s.Resolution != nil {
						source = s.Resolution.Source
					}
					tw.AppendRow(table.Row{s.Turn.ID, s.Turn.Index, s.Turn.EndsAt, source, s.Turn.Summary})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "campaign", "", "campaign code")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func votesCmd() *cobra.Command {
	var turnID int64
	cmd := &cobra.Command{
		Use:   "votes",
		Short: "Show the votes and tally of a turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				votes, err := a.Engine.ListVotes(ctx, turnID)
				if err != nil {
					return err
				}
				tally, err := a.Engine.Tally(ctx, turnID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"votes": votes, "tally": tally})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Character", "Archetype", "Hook", "Updated"})
				for _, v := range votes {
					name, archetype := "", ""
					if v.Character != nil {
						name, archetype = v.Character.Name, v.Character.Archetype
					}
					tw.AppendRow(table.Row{name, archetype, v.HookIndex, v.UpdatedAt})
				}
				tw.AppendFooter(table.Row{"", "leading", tally.Leading, fmt.Sprintf("%d votes", tally.Total)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&turnID, "turn", 0, "turn id")
	_ = cmd.MarkFlagRequired("turn")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect game rules",
		Long:  "Game rules live in chronicle.yml in the workspace: player limits, voting window, narrative model settings, stalled start recovery and webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate chronicle.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default chronicle.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for --user-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), viper.GetString("user-id"), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"user_id": viper.GetString("user-id"), "token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	t.AddCommand(mint)
	return t
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: campaigns created, characters claimed and locked, turns written, votes cast.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.CampaignCode = strings.ToUpper(strings.TrimSpace(f.CampaignCode))
				items, err := a.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Campaign", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CampaignCode, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.CampaignCode, "campaign", "", "campaign filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, app.Options{
		Workspace:     viper.GetString("workspace"),
		DBPath:        viper.GetString("db"),
		RedisAddr:     viper.GetString("redis-addr"),
		RedisPassword: viper.GetString("redis-password"),
		RedisDB:       viper.GetInt("redis-db"),
		OpenAIKey:     viper.GetString("openai-key"),
		OpenAIBaseURL: viper.GetString("openai-base-url"),
		Log:           log,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
