package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	cfg.Provider.GeminiAPIKey = "test-key"
	if err := cfg.ValidateRelay(); err != nil {
		t.Fatalf("default relay config should validate: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("default client config should validate: %v", err)
	}
}

func TestValidateRelay(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:     "gemini without key",
			mutate:   func(c *Config) {},
			errorMsg: "provider config",
		},
		{
			name: "invalid port",
			mutate: func(c *Config) {
				c.Provider.GeminiAPIKey = "k"
				c.Relay.Port = 70000
			},
			errorMsg: "relay config",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Provider.Kind = "llama"
			},
			errorMsg: "provider config",
		},
		{
			name: "openai needs no gemini key",
			mutate: func(c *Config) {
				c.Provider.Kind = "openai"
			},
		},
		{
			name: "empty persona",
			mutate: func(c *Config) {
				c.Provider.GeminiAPIKey = "k"
				c.Answer.Persona = ""
			},
			errorMsg: "answer config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateRelay()
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Fatalf("expected error containing %q, got %v", tt.errorMsg, err)
			}
		})
	}
}

func TestValidateClientRejectsBadRecorder(t *testing.T) {
	cfg := Default()
	cfg.Recorder.FFTSize = 1000
	if err := cfg.ValidateClient(); err == nil || !strings.Contains(err.Error(), "recorder config") {
		t.Fatalf("expected recorder config error, got %v", err)
	}

	cfg = Default()
	cfg.Client.RelayURL = "not a url"
	if err := cfg.ValidateClient(); err == nil || !strings.Contains(err.Error(), "client config") {
		t.Fatalf("expected client config error, got %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocalize.yaml")
	content := `
relay:
  port: 6000
answer:
  persona: "You are a terse assistant."
recorder:
  silence_duration_ms: 1500
speech:
  voice_filter:
    name_contains: ["Natural"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.Port != 7000 {
		t.Fatalf("env should override file port, got %d", cfg.Relay.Port)
	}
	if cfg.Provider.GeminiAPIKey != "from-env" {
		t.Fatalf("expected api key from env, got %q", cfg.Provider.GeminiAPIKey)
	}
	if cfg.Answer.Persona != "You are a terse assistant." {
		t.Fatalf("persona not loaded: %q", cfg.Answer.Persona)
	}
	if cfg.Answer.Fallback != DefaultFallback {
		t.Fatalf("fallback default lost: %q", cfg.Answer.Fallback)
	}
	if got := cfg.Recorder.GetSilenceDuration(); got != 1500*time.Millisecond {
		t.Fatalf("silence duration: %v", got)
	}
	if got := cfg.Recorder.GetMaxDuration(); got != 30*time.Second {
		t.Fatalf("max duration default: %v", got)
	}
	if len(cfg.Speech.VoiceFilter.NameContains) != 1 || cfg.Speech.VoiceFilter.NameContains[0] != "Natural" {
		t.Fatalf("voice filter not loaded: %v", cfg.Speech.VoiceFilter.NameContains)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyEnvProduction(t *testing.T) {
	cfg := Default()
	env := map[string]string{"NODE_ENV": "production", "RELAY_URL": "http://relay:5000"}
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if !cfg.Relay.IsProduction() {
		t.Fatalf("expected production environment")
	}
	if cfg.Client.RelayURL != "http://relay:5000" {
		t.Fatalf("relay url: %q", cfg.Client.RelayURL)
	}
	if cfg.Relay.GetKeepWarmInterval() != 4*time.Minute {
		t.Fatalf("keep warm interval: %v", cfg.Relay.GetKeepWarmInterval())
	}
}
