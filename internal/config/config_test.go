// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TAQBRIDGE_WORKER_SCRIPT", "/opt/automation/worker.js")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Worker.Interpreter != "node" {
		t.Errorf("Interpreter = %q", cfg.Worker.Interpreter)
	}
	if cfg.Worker.ControlTimeout != 5*time.Second {
		t.Errorf("ControlTimeout = %s", cfg.Worker.ControlTimeout)
	}
	if cfg.Hub.ReconnectGrace != 25*time.Second {
		t.Errorf("ReconnectGrace = %s", cfg.Hub.ReconnectGrace)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
listen: ":1234"
worker:
  script: /from/file.js
  controlTimeout: 2s
hub:
  reconnectGrace: 10s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TAQBRIDGE_LISTEN", ":9999")
	t.Setenv("TAQBRIDGE_RECONNECT_GRACE", "40s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("env should win: Listen = %q", cfg.Listen)
	}
	if cfg.Worker.Script != "/from/file.js" {
		t.Errorf("file value lost: Script = %q", cfg.Worker.Script)
	}
	if cfg.Worker.ControlTimeout != 2*time.Second {
		t.Errorf("ControlTimeout = %s", cfg.Worker.ControlTimeout)
	}
	if cfg.Hub.ReconnectGrace != 40*time.Second {
		t.Errorf("env should win: ReconnectGrace = %s", cfg.Hub.ReconnectGrace)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("nonsense: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestValidate(t *testing.T) {
	base := defaults()
	base.Worker.Script = "worker.js"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing script", func(c *Config) { c.Worker.Script = "" }, true},
		{"missing interpreter", func(c *Config) { c.Worker.Interpreter = "" }, true},
		{"zero control timeout", func(c *Config) { c.Worker.ControlTimeout = 0 }, true},
		{"negative grace", func(c *Config) { c.Hub.ReconnectGrace = -time.Second }, true},
		{"negative rate limit", func(c *Config) { c.API.RateLimit = -1 }, true},
		{"empty listen", func(c *Config) { c.Listen = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("TB_TEST_INT", "42")
	t.Setenv("TB_TEST_BAD_INT", "nope")
	t.Setenv("TB_TEST_DUR", "90s")
	t.Setenv("TB_TEST_BOOL", "true")
	t.Setenv("TB_TEST_LIST", "a, b,,c")

	if got := ParseInt("TB_TEST_INT", 1); got != 42 {
		t.Errorf("ParseInt = %d", got)
	}
	if got := ParseInt("TB_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("ParseInt fallback = %d", got)
	}
	if got := ParseDuration("TB_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("ParseDuration = %s", got)
	}
	if got := ParseBool("TB_TEST_BOOL", false); !got {
		t.Error("ParseBool = false")
	}
	if got := ParseStringSlice("TB_TEST_LIST", nil); len(got) != 3 || got[2] != "c" {
		t.Errorf("ParseStringSlice = %v", got)
	}
	if got := ParseString("TB_TEST_ABSENT", "fallback"); got != "fallback" {
		t.Errorf("ParseString = %q", got)
	}
}
