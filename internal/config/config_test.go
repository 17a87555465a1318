package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.CounterAcceptPolicy() != CounterAcceptHire {
		t.Fatalf("expected hire policy, got %s", cfg.CounterAcceptPolicy())
	}
	if cfg.Policies.MaxPositions != 100 {
		t.Fatalf("expected max_positions 100, got %d", cfg.Policies.MaxPositions)
	}
	if cfg.ReservationGrace() != DefaultReservationGrace {
		t.Fatalf("expected default reservation grace, got %s", cfg.ReservationGrace())
	}
	if cfg.Events.Redis.Channel != "gigline:events" {
		t.Fatalf("unexpected channel %q", cfg.Events.Redis.Channel)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("policies:\n  counter_accept: revert\nserver:\n  rate_limit:\n    rps: 2\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.CounterAcceptPolicy() != CounterAcceptRevert {
		t.Fatalf("expected revert, got %s", cfg.CounterAcceptPolicy())
	}
	if cfg.Server.RateLimit.RPS != 2 || cfg.Server.RateLimit.Burst != 20 {
		t.Fatalf("unexpected rate limit %+v", cfg.Server.RateLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"counter_accept": "policies:\n  counter_accept: maybe\n",
		"postgres dsn":   "database:\n  driver: postgres\n",
		"driver":         "database:\n  driver: oracle\n",
		"webhook url":    "webhooks:\n  - url: ftp://example.com\n",
		"grace":          "policies:\n  reservation_grace_seconds: -1\n",
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
		t.Fatalf("expected nil config for missing file, got %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gigline.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("expected config, got %v %v", cfg, err)
	}
	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
