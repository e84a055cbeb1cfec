package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Turns.VotingWindowSeconds != 60 {
		t.Fatalf("expected 60s voting window, got %d", cfg.Turns.VotingWindowSeconds)
	}
	if cfg.Campaign.CodeAttempts != 10 {
		t.Fatalf("expected 10 code attempts, got %d", cfg.Campaign.CodeAttempts)
	}
	if cfg.Narrative.Model != "gpt-4" {
		t.Fatalf("unexpected model %q", cfg.Narrative.Model)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("turns:\n  voting_window_seconds: 90\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Turns.VotingWindowSeconds != 90 {
		t.Fatalf("override not applied: %d", cfg.Turns.VotingWindowSeconds)
	}
	if cfg.Campaign.DefaultMaxPlayers != 6 {
		t.Fatalf("default lost: %d", cfg.Campaign.DefaultMaxPlayers)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"window":  "turns:\n  voting_window_seconds: 0\n",
		"players": "campaign:\n  default_max_players: 20\n",
		"webhook": "webhooks:\n  - url: \"\"\n",
		"model":   "narrative:\n  model: \" \"\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil,nil for missing file, got %v, %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("expected not-found hint, got %v", err)
	}
	doc := GenerateDefault() + "\n"
	if err := os.WriteFile(filepath.Join(dir, "chronicle.yml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load: %v", err)
	}
}

func TestWebhookEnabledDefault(t *testing.T) {
	cfg, err := FromYAML([]byte("webhooks:\n  - url: http://x\n  - url: http://y\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Webhooks[0].IsEnabled() || cfg.Webhooks[1].IsEnabled() {
		t.Fatalf("unexpected enabled flags: %+v", cfg.Webhooks)
	}
}
