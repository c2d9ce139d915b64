// Package config loads go-stockroom configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-stockroom/internal/log"
)

// EnvPrefix is prepended to every environment override, e.g.
// STOCKROOM_GEMINI_MODEL or STOCKROOM_STORE_DRIVER.
const EnvPrefix = "STOCKROOM"

// Default configuration values.
const (
	DefaultModel       = "gemini-2.0-flash-live-001"
	DefaultTTSModel    = "gemini-2.5-flash-preview-tts"
	DefaultVoice       = "Puck"
	DefaultLocation    = "us-central1"
	DefaultWebAddr     = ":8181"
	DefaultUserID      = "local"
	DefaultGreeting    = "Hi! I'm your stockroom assistant. Tell me what to add, remove, or look up."
	DefaultInstruction = `You are a voice assistant for a small record store. You manage the user's inventory.
Use add_item when the user receives stock, remove_item when items are sold or discarded,
get_item_details to answer questions about one item, and get_inventory_summary for an overview.
Always confirm what you did in one short sentence. Prices are in dollars.`
)

// Transport values for GeminiConfig.Transport.
const (
	TransportSDK       = "sdk"
	TransportWebSocket = "websocket"
)

// Config is the full application configuration.
type Config struct {
	Log    log.Config   `mapstructure:"log"`
	Gemini GeminiConfig `mapstructure:"gemini"`
	Audio  AudioConfig  `mapstructure:"audio"`
	Store  StoreConfig  `mapstructure:"store"`
	Web    WebConfig    `mapstructure:"web"`
	Docs   DocsConfig   `mapstructure:"docs"`

	// UserID scopes every inventory operation.
	UserID string `mapstructure:"user_id"`

	// Greeting is spoken once at the start of every session.
	Greeting string `mapstructure:"greeting"`

	// Instructions is the system prompt sent when the session opens.
	Instructions string `mapstructure:"instructions"`
}

// GeminiConfig selects and authenticates the remote speech service.
type GeminiConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	TTSModel  string `mapstructure:"tts_model"`
	Voice     string `mapstructure:"voice"`
	Transport string `mapstructure:"transport"`

	// UseADC authenticates with application default credentials against
	// Vertex AI instead of an API key.
	UseADC   bool   `mapstructure:"use_adc"`
	Project  string `mapstructure:"project"`
	Location string `mapstructure:"location"`
}

// AudioConfig selects the capture and playback backends.
type AudioConfig struct {
	// Input is "exec" or "mock".
	Input string `mapstructure:"input"`

	// InputCommand is run by the exec backend. It must write raw float32
	// little-endian mono samples at 16 kHz to stdout.
	InputCommand []string `mapstructure:"input_command"`

	// FrameDuration is the capture cadence.
	FrameDuration time.Duration `mapstructure:"frame_duration"`

	// Output is "oto" or "mock".
	Output string `mapstructure:"output"`
}

// StoreConfig selects the inventory backend.
type StoreConfig struct {
	// Driver is "memory", "json" or "sqlite".
	Driver string `mapstructure:"driver"`

	// Path is the JSON file or sqlite database path.
	Path string `mapstructure:"path"`
}

// WebConfig controls the HTTP control surface.
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DocsConfig holds OAuth client credentials for the Google Docs export.
type DocsConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenPath    string `mapstructure:"token_path"`
}

// FieldError reports an invalid configuration field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SetDefaults registers every default on v. Keys must be registered for
// environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", DefaultModel)
	v.SetDefault("gemini.tts_model", DefaultTTSModel)
	v.SetDefault("gemini.voice", DefaultVoice)
	v.SetDefault("gemini.transport", TransportSDK)
	v.SetDefault("gemini.use_adc", false)
	v.SetDefault("gemini.project", "")
	v.SetDefault("gemini.location", DefaultLocation)

	v.SetDefault("audio.input", "exec")
	v.SetDefault("audio.input_command", []string{"arecord", "-q", "-t", "raw", "-f", "FLOAT_LE", "-r", "16000", "-c", "1"})
	v.SetDefault("audio.frame_duration", 20*time.Millisecond)
	v.SetDefault("audio.output", "oto")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "stockroom.db")

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.addr", DefaultWebAddr)

	v.SetDefault("docs.client_id", "")
	v.SetDefault("docs.client_secret", "")
	v.SetDefault("docs.token_path", "")

	v.SetDefault("user_id", DefaultUserID)
	v.SetDefault("greeting", DefaultGreeting)
	v.SetDefault("instructions", DefaultInstruction)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional key names used by Google tooling.
	_ = v.BindEnv("gemini.api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("gemini.project", EnvPrefix+"_GEMINI_PROJECT", "GOOGLE_CLOUD_PROJECT")
	_ = v.BindEnv("docs.client_id", EnvPrefix+"_DOCS_CLIENT_ID", "GOOGLE_CLIENT_ID")
	_ = v.BindEnv("docs.client_secret", EnvPrefix+"_DOCS_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")

	return v
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values. Credentials are checked by RequireCredentials
// since commands like "tools" do not need them.
func (c *Config) Validate() error {
	switch c.Gemini.Transport {
	case TransportSDK, TransportWebSocket:
	default:
		return &FieldError{Field: "gemini.transport", Message: "must be sdk or websocket, got " + c.Gemini.Transport}
	}
	switch c.Audio.Input {
	case "exec", "mock":
	default:
		return &FieldError{Field: "audio.input", Message: "must be exec or mock, got " + c.Audio.Input}
	}
	if c.Audio.Input == "exec" && len(c.Audio.InputCommand) == 0 {
		return &FieldError{Field: "audio.input_command", Message: "required for the exec backend"}
	}
	if c.Audio.FrameDuration <= 0 {
		return &FieldError{Field: "audio.frame_duration", Message: "must be positive"}
	}
	switch c.Audio.Output {
	case "oto", "mock":
	default:
		return &FieldError{Field: "audio.output", Message: "must be oto or mock, got " + c.Audio.Output}
	}
	switch c.Store.Driver {
	case "memory":
	case "json", "sqlite":
		if c.Store.Path == "" {
			return &FieldError{Field: "store.path", Message: "required for the " + c.Store.Driver + " driver"}
		}
	default:
		return &FieldError{Field: "store.driver", Message: "must be memory, json or sqlite, got " + c.Store.Driver}
	}
	if strings.TrimSpace(c.UserID) == "" {
		return &FieldError{Field: "user_id", Message: "must not be empty"}
	}
	return nil
}

// ErrMissingCredentials is returned when neither an API key nor ADC is set.
var ErrMissingCredentials = errors.New("config: GEMINI_API_KEY (or GOOGLE_API_KEY) is required unless gemini.use_adc is set")

// RequireCredentials checks that the speech service can be authenticated.
func (c *Config) RequireCredentials() error {
	if c.Gemini.UseADC {
		if c.Gemini.Project == "" {
			return &FieldError{Field: "gemini.project", Message: "required with gemini.use_adc"}
		}
		return nil
	}
	if c.Gemini.APIKey == "" {
		return ErrMissingCredentials
	}
	return nil
}
