package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gemini.Model != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, cfg.Gemini.Model)
	}
	if cfg.Gemini.Transport != TransportSDK {
		t.Errorf("expected transport sdk, got %s", cfg.Gemini.Transport)
	}
	if cfg.Audio.FrameDuration != 20*time.Millisecond {
		t.Errorf("expected 20ms frames, got %v", cfg.Audio.FrameDuration)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite store, got %s", cfg.Store.Driver)
	}
	if cfg.UserID != DefaultUserID {
		t.Errorf("expected user %s, got %s", DefaultUserID, cfg.UserID)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STOCKROOM_GEMINI_VOICE", "Kore")
	t.Setenv("STOCKROOM_STORE_DRIVER", "memory")
	t.Setenv("GOOGLE_API_KEY", "test-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gemini.Voice != "Kore" {
		t.Errorf("expected voice Kore, got %s", cfg.Gemini.Voice)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory store, got %s", cfg.Store.Driver)
	}
	if cfg.Gemini.APIKey != "test-key" {
		t.Errorf("expected api key from GOOGLE_API_KEY, got %q", cfg.Gemini.APIKey)
	}
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("RequireCredentials failed: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockroom.yaml")
	body := []byte(`
user_id: shop-7
gemini:
  transport: websocket
audio:
  input: mock
  output: mock
  frame_duration: 40ms
store:
  driver: json
  path: /tmp/items.json
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.UserID != "shop-7" {
		t.Errorf("expected user shop-7, got %s", cfg.UserID)
	}
	if cfg.Gemini.Transport != TransportWebSocket {
		t.Errorf("expected websocket transport, got %s", cfg.Gemini.Transport)
	}
	if cfg.Audio.FrameDuration != 40*time.Millisecond {
		t.Errorf("expected 40ms frames, got %v", cfg.Audio.FrameDuration)
	}
	if cfg.Store.Path != "/tmp/items.json" {
		t.Errorf("expected json path, got %s", cfg.Store.Path)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad transport", func(c *Config) { c.Gemini.Transport = "grpc" }, "gemini.transport"},
		{"bad input", func(c *Config) { c.Audio.Input = "alsa" }, "audio.input"},
		{"exec without command", func(c *Config) { c.Audio.InputCommand = nil }, "audio.input_command"},
		{"zero frame", func(c *Config) { c.Audio.FrameDuration = 0 }, "audio.frame_duration"},
		{"bad output", func(c *Config) { c.Audio.Output = "pulse" }, "audio.output"},
		{"json without path", func(c *Config) { c.Store.Driver = "json"; c.Store.Path = "" }, "store.path"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"empty user", func(c *Config) { c.UserID = " " }, "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fe.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, fe.Field)
			}
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := Config{}
	if !errors.Is(cfg.RequireCredentials(), ErrMissingCredentials) {
		t.Error("expected ErrMissingCredentials without a key")
	}

	cfg.Gemini.UseADC = true
	var fe *FieldError
	if !errors.As(cfg.RequireCredentials(), &fe) || fe.Field != "gemini.project" {
		t.Error("expected gemini.project FieldError with ADC and no project")
	}

	cfg.Gemini.Project = "my-project"
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
