package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rla.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Actor != "County" || cfg.Poll.Interval != 5*time.Second || cfg.Poll.MaxInFlight != 2 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Evaluator.Engine != "expr" || cfg.Activity.Channel != "rla" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
actor: DOS
poll:
  interval: 250ms
  max_in_flight: 4
evaluator:
  engine: cel
redis:
  url: redis://localhost:6379/0
  ttl: 1h
log:
  level: debug
  format: json
`)
	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		"RLA_MAX_IN_FLIGHT": "3",
		"RLA_SESSION_ID":    " station-4 ",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Actor != "DOS" || cfg.Poll.Interval != 250*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Poll.MaxInFlight != 3 {
		t.Fatalf("expected env override of max in flight, got %d", cfg.Poll.MaxInFlight)
	}
	if cfg.SessionID != "station-4" {
		t.Fatalf("expected trimmed session id, got %q", cfg.SessionID)
	}
	if cfg.Redis.TTL != time.Hour || cfg.Redis.Prefix != "rla:checkpoint:" {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "unknown actor", env: map[string]string{"RLA_ACTOR": "AuditBoard"}, want: "actor must be"},
		{name: "bad engine", env: map[string]string{"RLA_EVALUATOR": "lua"}, want: "evaluator.engine"},
		{name: "bad duration", env: map[string]string{"RLA_POLL_INTERVAL": "soon"}, want: "RLA_POLL_INTERVAL"},
		{name: "bad max in flight", env: map[string]string{"RLA_MAX_IN_FLIGHT": "0"}, want: "max_in_flight"},
		{name: "unknown yaml key", body: "actr: County\n", want: "actr"},
		{name: "bad log level", body: "log:\n  level: loud\n", want: "log.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := ""
			if tc.body != "" {
				path = writeConfig(t, tc.body)
			}
			_, err := LoadWithEnv(path, envMap(tc.env))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := LoadWithEnv(writeConfig(t, ""), envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Actor != "County" {
		t.Fatalf("expected defaults for empty file, got %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Fatalf("expected read error")
	}
}
