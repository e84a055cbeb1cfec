package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models chronicle.yml.
type Config struct {
	Campaign struct {
		DefaultMaxPlayers int `yaml:"default_max_players"`
		MaxPlayersLimit   int `yaml:"max_players_limit"`
		CodeAttempts      int `yaml:"code_attempts"`
	} `yaml:"campaign"`
	Turns struct {
		VotingWindowSeconds int `yaml:"voting_window_seconds"`
	} `yaml:"turns"`
	Narrative struct {
		Model            string  `yaml:"model"`
		GenreTemperature float64 `yaml:"genre_temperature"`
		SceneTemperature float64 `yaml:"scene_temperature"`
		GenreMaxTokens   int64   `yaml:"genre_max_tokens"`
		SceneMaxTokens   int64   `yaml:"scene_max_tokens"`
		TimeoutSeconds   int     `yaml:"timeout_seconds"`
	} `yaml:"narrative"`
	Recovery struct {
		StalledAfterSeconds int `yaml:"stalled_after_seconds"`
		IntervalSeconds     int `yaml:"interval_seconds"`
	} `yaml:"recovery"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
	// Secret is sent verbatim in X-Chronicle-Secret when set.
	Secret string `yaml:"secret"`
}

// IsEnabled treats a missing flag as enabled.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

func (c *Config) VotingWindow() time.Duration {
	return time.Duration(c.Turns.VotingWindowSeconds) * time.Second
}

func (c *Config) StalledAfter() time.Duration {
	return time.Duration(c.Recovery.StalledAfterSeconds) * time.Second
}

func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Recovery.IntervalSeconds) * time.Second
}

func (c *Config) NarrativeTimeout() time.Duration {
	return time.Duration(c.Narrative.TimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with chronicle config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Campaign.MaxPlayersLimit <= 0 {
		return fmt.Errorf("config.campaign.max_players_limit must be positive")
	}
	if c.Campaign.DefaultMaxPlayers <= 0 {
		return fmt.Errorf("config.campaign.default_max_players must be positive")
	}
	if c.Campaign.DefaultMaxPlayers > c.Campaign.MaxPlayersLimit {
		return fmt.Errorf("config.campaign.default_max_players %d exceeds max_players_limit %d", c.Campaign.DefaultMaxPlayers, c.Campaign.MaxPlayersLimit)
	}
	if c.Campaign.CodeAttempts <= 0 {
		return fmt.Errorf("config.campaign.code_attempts must be positive")
	}
	if c.Turns.VotingWindowSeconds <= 0 {
		return fmt.Errorf("config.turns.voting_window_seconds must be positive")
	}
	if strings.TrimSpace(c.Narrative.Model) == "" {
		return fmt.Errorf("config.narrative.model is required")
	}
	if c.Narrative.GenreTemperature < 0 || c.Narrative.GenreTemperature > 2 {
		return fmt.Errorf("config.narrative.genre_temperature must be within 0..2")
	}
	if c.Narrative.SceneTemperature < 0 || c.Narrative.SceneTemperature > 2 {
		return fmt.Errorf("config.narrative.scene_temperature must be within 0..2")
	}
	if c.Narrative.GenreMaxTokens <= 0 || c.Narrative.SceneMaxTokens <= 0 {
		return fmt.Errorf("config.narrative max tokens must be positive")
	}
	if c.Narrative.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.narrative.timeout_seconds must be positive")
	}
	if c.Recovery.StalledAfterSeconds <= 0 {
		return fmt.Errorf("config.recovery.stalled_after_seconds must be positive")
	}
	if c.Recovery.IntervalSeconds <= 0 {
		return fmt.Errorf("config.recovery.interval_seconds must be positive")
	}
	for i, wh := range c.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range wh.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event filter", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "chronicle.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in game rules.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `campaign:
  default_max_players: 6
  max_players_limit: 12
  code_attempts: 10

turns:
  voting_window_seconds: 60

narrative:
  model: gpt-4
  genre_temperature: 0.7
  scene_temperature: 0.8
  genre_max_tokens: 500
  scene_max_tokens: 1000
  timeout_seconds: 45

recovery:
  stalled_after_seconds: 120
  interval_seconds: 30

webhooks: []
`
