package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPersona is the system instruction wrapped around every question
	// sent to the answer endpoint.
	DefaultPersona = "Your name is Eragon, a helpful AI assistant. Provide accurate, informative responses to user questions across all topics and domains. Be conversational and natural in your responses."
	// DefaultFallback is returned with HTTP 200 whenever answer generation fails.
	DefaultFallback = "I apologize for the technical difficulty. I'm here to discuss my qualifications."
	// DefaultTranscribeInstruction accompanies the audio sent for transcription.
	DefaultTranscribeInstruction = "Please transcribe this audio file and return only the spoken text."
)

// Config is the file layout shared by the relay and the voice client. Each
// binary validates only the sections it uses.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Provider   ProviderConfig   `yaml:"provider"`
	Answer     AnswerConfig     `yaml:"answer"`
	Client     ClientConfig     `yaml:"client"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Speech     SpeechConfig     `yaml:"speech"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RelayConfig configures the HTTP relay.
type RelayConfig struct {
	Address          string   `yaml:"address" validate:"required"`
	Port             int      `yaml:"port" validate:"min=1,max=65535"`
	Environment      string   `yaml:"environment" validate:"oneof=development production test"`
	PublicURL        string   `yaml:"public_url" validate:"omitempty,url"`
	UploadDir        string   `yaml:"upload_dir" validate:"required"`
	MaxUploadBytes   int64    `yaml:"max_upload_bytes" validate:"gt=0"`
	KeepWarmInterval int      `yaml:"keep_warm_interval"` // seconds
	CORSOrigins      []string `yaml:"cors_origins"`
	MCPEnabled       bool     `yaml:"mcp_enabled"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout" validate:"gte=0"` // seconds
}

// ProviderConfig selects and configures the generative-AI provider.
type ProviderConfig struct {
	Kind                  string `yaml:"kind" validate:"oneof=gemini openai"`
	GeminiAPIKey          string `yaml:"gemini_api_key" validate:"required_if=Kind gemini"`
	GeminiModel           string `yaml:"gemini_model" validate:"required_if=Kind gemini"`
	OpenAIBaseURL         string `yaml:"openai_base_url" validate:"required_if=Kind openai"`
	OpenAIAPIKey          string `yaml:"openai_api_key"`
	OpenAIModel           string `yaml:"openai_model"`
	OpenAIFallbackModel   string `yaml:"openai_fallback_model"`
	TranscriptionModel    string `yaml:"transcription_model"`
	MaxTokens             int    `yaml:"max_tokens" validate:"gte=0"`
	Timeout               int    `yaml:"timeout" validate:"gt=0"` // seconds
	TranscribeInstruction string `yaml:"transcribe_instruction" validate:"required"`
}

// AnswerConfig holds the persona prompt and the fallback reply. Both are
// integrator choices; the defaults match the shipped assistant.
type AnswerConfig struct {
	Persona  string `yaml:"persona" validate:"required"`
	Fallback string `yaml:"fallback" validate:"required"`
}

// ClientConfig configures how the voice client reaches the relay.
type ClientConfig struct {
	RelayURL       string `yaml:"relay_url" validate:"required,url"`
	MCPPath        string `yaml:"mcp_path" validate:"omitempty,startswith=/"`
	RequestTimeout int    `yaml:"request_timeout" validate:"gt=0"` // seconds
	MinAudioBytes  int    `yaml:"min_audio_bytes" validate:"gte=0"` // at 128 kb/s, scaled per codec
}

// RecorderConfig holds capture and silence-detection settings.
type RecorderConfig struct {
	Device                string   `yaml:"device"`
	EchoCancellation      bool     `yaml:"echo_cancellation"`
	NoiseSuppression      bool     `yaml:"noise_suppression"`
	AutoGainControl       bool     `yaml:"auto_gain_control"`
	SampleRate            int      `yaml:"sample_rate" validate:"omitempty,oneof=8000 16000 22050 44100 48000"`
	MaxDurationMs         int      `yaml:"max_duration_ms" validate:"gt=0"`
	SilenceThreshold      float64  `yaml:"silence_threshold" validate:"gte=0,lte=255"`
	SilenceDurationMs     int      `yaml:"silence_duration_ms" validate:"gt=0"`
	FFTSize               int      `yaml:"fft_size" validate:"oneof=256 512 1024 2048 4096 8192"`
	Smoothing             float64  `yaml:"smoothing" validate:"gte=0,lt=1"`
	PreferredContentTypes []string `yaml:"preferred_content_types"`
}

// VoiceFilter narrows the synthesizer's voice list.
type VoiceFilter struct {
	LangPrefix   string   `yaml:"lang_prefix"`
	NameContains []string `yaml:"name_contains"`
}

// SpeechConfig configures local speech synthesis.
type SpeechConfig struct {
	Engine      string      `yaml:"engine" validate:"oneof=auto espeak say"`
	Voice       string      `yaml:"voice"`
	Rate        float64     `yaml:"rate" validate:"gt=0,lte=4"`
	Pitch       float64     `yaml:"pitch" validate:"gt=0,lte=2"`
	VoiceFilter VoiceFilter `yaml:"voice_filter"`
}

// RecordingsConfig enables on-disk copies of client recordings. An empty Dir
// disables persistence.
type RecordingsConfig struct {
	Dir             string `yaml:"dir"`
	RetentionHours  int    `yaml:"retention_hours" validate:"gte=0"`
	MaxFiles        int    `yaml:"max_files" validate:"gte=0"`
	CleanupInterval int    `yaml:"cleanup_interval" validate:"gte=0"` // seconds
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File  string `yaml:"file"`
}

var validate = validator.New()

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Address:          "0.0.0.0",
			Port:             5000,
			Environment:      "development",
			PublicURL:        "http://localhost:5000",
			UploadDir:        filepath.Join(os.TempDir(), "vocalize-uploads"),
			MaxUploadBytes:   25 << 20,
			KeepWarmInterval: 240,
			CORSOrigins:      []string{"*"},
			MCPEnabled:       true,
			ShutdownTimeout:  10,
		},
		Provider: ProviderConfig{
			Kind:                  "gemini",
			GeminiModel:           "gemini-1.5-flash",
			OpenAIBaseURL:         "http://127.0.0.1:8000/v1",
			TranscriptionModel:    "whisper-1",
			MaxTokens:             512,
			Timeout:               60,
			TranscribeInstruction: DefaultTranscribeInstruction,
		},
		Answer: AnswerConfig{
			Persona:  DefaultPersona,
			Fallback: DefaultFallback,
		},
		Client: ClientConfig{
			RelayURL:       "http://localhost:5000",
			MCPPath:        "/mcp/ws",
			RequestTimeout: 60,
			MinAudioBytes:  8000,
		},
		Recorder: RecorderConfig{
			EchoCancellation:  true,
			NoiseSuppression:  true,
			AutoGainControl:   true,
			MaxDurationMs:     30000,
			SilenceThreshold:  10,
			SilenceDurationMs: 2000,
			FFTSize:           2048,
			Smoothing:         0.8,
		},
		Speech: SpeechConfig{
			Engine: "auto",
			Rate:   0.8,
			Pitch:  1.0,
			VoiceFilter: VoiceFilter{
				LangPrefix:   "en",
				NameContains: []string{"Google", "Microsoft", "Natural"},
			},
		},
		Recordings: RecordingsConfig{
			RetentionHours:  24,
			MaxFiles:        200,
			CleanupInterval: 300,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path (if non-empty) over the defaults and then applies
// environment overrides. It does not validate; callers pick ValidateRelay
// or ValidateClient.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("HOST", &c.Relay.Address)
	num("PORT", &c.Relay.Port)
	str("NODE_ENV", &c.Relay.Environment)
	str("APP_ENV", &c.Relay.Environment)
	str("PUBLIC_URL", &c.Relay.PublicURL)
	str("UPLOAD_DIR", &c.Relay.UploadDir)

	str("PROVIDER", &c.Provider.Kind)
	str("GEMINI_API_KEY", &c.Provider.GeminiAPIKey)
	str("GEMINI_MODEL", &c.Provider.GeminiModel)
	str("OPENAI_BASE_URL", &c.Provider.OpenAIBaseURL)
	str("OPENAI_API_KEY", &c.Provider.OpenAIAPIKey)
	str("OPENAI_MODEL", &c.Provider.OpenAIModel)
	str("OPENAI_FALLBACK_MODEL", &c.Provider.OpenAIFallbackModel)
	str("OPENAI_TRANSCRIPTION_MODEL", &c.Provider.TranscriptionModel)
	num("LLM_MAX_TOKENS", &c.Provider.MaxTokens)

	str("ANSWER_PERSONA", &c.Answer.Persona)
	str("ANSWER_FALLBACK", &c.Answer.Fallback)

	str("RELAY_URL", &c.Client.RelayURL)
	num("MIN_AUDIO_BYTES", &c.Client.MinAudioBytes)

	str("SPEECH_VOICE", &c.Speech.Voice)
	str("SAVE_AUDIO_DIR", &c.Recordings.Dir)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FILE", &c.Logging.File)
}

// ValidateRelay checks the sections the relay reads.
func (c *Config) ValidateRelay() error {
	if err := validate.Struct(&c.Relay); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	if err := validate.Struct(&c.Provider); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if err := validate.Struct(&c.Answer); err != nil {
		return fmt.Errorf("answer config: %w", err)
	}
	if err := validate.Struct(&c.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// ValidateClient checks the sections the voice client reads.
func (c *Config) ValidateClient() error {
	if err := validate.Struct(&c.Client); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := validate.Struct(&c.Recorder); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}
	if err := validate.Struct(&c.Speech); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}
	if err := validate.Struct(&c.Recordings); err != nil {
		return fmt.Errorf("recordings config: %w", err)
	}
	if err := validate.Struct(&c.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// IsProduction reports whether the relay runs in production mode.
func (r RelayConfig) IsProduction() bool {
	return strings.EqualFold(r.Environment, "production")
}

// ListenAddr returns host:port for the HTTP server.
func (r RelayConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", r.Address, r.Port)
}

// GetKeepWarmInterval returns the keep-warm ping period.
func (r RelayConfig) GetKeepWarmInterval() time.Duration {
	return time.Duration(r.KeepWarmInterval) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown budget.
func (r RelayConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(r.ShutdownTimeout) * time.Second
}

// GetTimeout returns the per-call provider timeout.
func (p ProviderConfig) GetTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetRequestTimeout returns the per-call relay timeout used by the client.
func (c ClientConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetMaxDuration returns the recording ceiling.
func (r RecorderConfig) GetMaxDuration() time.Duration {
	return time.Duration(r.MaxDurationMs) * time.Millisecond
}

// GetSilenceDuration returns how long silence must last before auto-stop.
func (r RecorderConfig) GetSilenceDuration() time.Duration {
	return time.Duration(r.SilenceDurationMs) * time.Millisecond
}

// GetRetention returns how long saved recordings are kept.
func (r RecordingsConfig) GetRetention() time.Duration {
	return time.Duration(r.RetentionHours) * time.Hour
}

// GetCleanupInterval returns the cleaner period.
func (r RecordingsConfig) GetCleanupInterval() time.Duration {
	return time.Duration(r.CleanupInterval) * time.Second
}
