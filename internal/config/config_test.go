package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8420 {
		t.Errorf("port = %d, want 8420", cfg.Server.Port)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Errorf("idle timeout = %v, want 30m", cfg.Session.IdleTimeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "server:\n  port: 9000\nsession:\n  preserve_exchanges: 4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Session.PreserveExchanges != 4 {
		t.Errorf("preserve_exchanges = %d, want 4", cfg.Session.PreserveExchanges)
	}
	// Untouched options keep their defaults.
	if cfg.Channel.SubscriberBuffer != 64 {
		t.Errorf("subscriber_buffer = %d, want 64", cfg.Channel.SubscriberBuffer)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RESEARCHD_PORT", "7001")
	t.Setenv("RESEARCHD_MODELS", "openai/gpt-4o, anthropic/claude-sonnet-4-20250514")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("port = %d, want 7001", cfg.Server.Port)
	}
	if len(cfg.LLM.Models) != 2 || cfg.LLM.Models[0] != "openai/gpt-4o" {
		t.Errorf("models = %v", cfg.LLM.Models)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no models", func(c *Config) { c.LLM.Models = nil }},
		{"bad model ref", func(c *Config) { c.LLM.Models = []string{"gpt-4o"} }},
		{"preserve too large", func(c *Config) { c.Session.PreserveExchanges = c.Session.MaxConversationLength }},
		{"zero buffer", func(c *Config) { c.Channel.SubscriberBuffer = 0 }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
