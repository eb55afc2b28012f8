package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"64"`

	// CORSOrigins is the browser origin allow-list. Empty allows any origin.
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,https://bhashini-kamco.vercel.app,https://agrivaani.vercel.app"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Provider selects the recognition+translation backend: "bhashini" or "openai".
	Provider string `env:"STT_PROVIDER" envDefault:"bhashini"`

	Bhashini BhashiniConfig
	OpenAI   OpenAIConfig

	// Segmentation
	SegmentMode        string        `env:"SEGMENT_MODE" envDefault:"silence"`
	MaxSegment         time.Duration `env:"MAX_SEGMENT" envDefault:"20s"`
	SilenceThresholdDB float64       `env:"SILENCE_THRESHOLD_DB" envDefault:"-40"`
	MinSilence         time.Duration `env:"MIN_SILENCE" envDefault:"700ms"`

	// Dispatch
	MaxInFlight     int           `env:"MAX_IN_FLIGHT" envDefault:"0"`
	SegmentTimeout  time.Duration `env:"SEGMENT_TIMEOUT" envDefault:"30s"`
	SegmentAttempts int           `env:"SEGMENT_ATTEMPTS" envDefault:"1"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF" envDefault:"500ms"`

	// RetryUnavailable extends retries from rate limits to 5xx/transport failures.
	RetryUnavailable bool `env:"RETRY_UNAVAILABLE" envDefault:"true"`

	// Merge
	MinOverlapChars int `env:"MIN_OVERLAP_CHARS" envDefault:"10"`

	// Transcode non-WAV uploads through ffmpeg.
	Transcode  bool   `env:"TRANSCODE" envDefault:"true"`
	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
}

// BhashiniConfig holds ULCA pipeline credentials.
type BhashiniConfig struct {
	UserID          string `env:"BHASHINI_USER_ID"`
	ULCAAPIKey      string `env:"BHASHINI_ULCA_API_KEY"`
	InferenceAPIKey string `env:"BHASHINI_INFERENCE_API_KEY"`
	PipelineID      string `env:"BHASHINI_PIPELINE_ID" envDefault:"64392f96daac500b55c543cd"`
	ConfigURL       string `env:"BHASHINI_CONFIG_URL" envDefault:"https://meity-auth.ulcacontrib.org/ulca/apis/v0/model/getModelsPipeline"`
}

// OpenAIConfig holds credentials for an OpenAI-compatible audio endpoint.
type OpenAIConfig struct {
	APIKey    string `env:"OPENAI_API_KEY"`
	BaseURL   string `env:"OPENAI_BASE_URL"`
	Model     string `env:"OPENAI_MODEL" envDefault:"whisper-1"`
	ChatModel string `env:"OPENAI_CHAT_MODEL" envDefault:"gpt-4o-mini"`
	TTSVoice  string `env:"OPENAI_TTS_VOICE" envDefault:"alloy"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	Provider   string
	MaxSegment time.Duration
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.Provider != "" {
		cfg.Provider = overrides.Provider
	}
	if overrides.MaxSegment > 0 {
		cfg.MaxSegment = overrides.MaxSegment
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected provider has credentials and that the
// pipeline limits are usable.
func (c *Config) Validate() error {
	switch c.Provider {
	case "bhashini":
		if c.Bhashini.UserID == "" || c.Bhashini.ULCAAPIKey == "" {
			return fmt.Errorf("invalid Bhashini config: BHASHINI_USER_ID and BHASHINI_ULCA_API_KEY are required")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("invalid OpenAI config: OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("invalid STT_PROVIDER %q: must be bhashini or openai", c.Provider)
	}

	if c.SegmentMode != "silence" && c.SegmentMode != "fixed" {
		return fmt.Errorf("invalid SEGMENT_MODE %q: must be silence or fixed", c.SegmentMode)
	}
	if c.MaxSegment <= 0 {
		return fmt.Errorf("invalid MAX_SEGMENT %s: must be positive", c.MaxSegment)
	}
	if c.MinSilence <= 0 {
		return fmt.Errorf("invalid MIN_SILENCE %s: must be positive", c.MinSilence)
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("invalid MAX_IN_FLIGHT %d: must be >= 0", c.MaxInFlight)
	}
	if c.SegmentTimeout <= 0 {
		return fmt.Errorf("invalid SEGMENT_TIMEOUT %s: must be positive", c.SegmentTimeout)
	}
	if c.SegmentAttempts < 1 || c.SegmentAttempts > 2 {
		return fmt.Errorf("invalid SEGMENT_ATTEMPTS %d: must be 1 or 2", c.SegmentAttempts)
	}
	if c.MinOverlapChars < 1 {
		return fmt.Errorf("invalid MIN_OVERLAP_CHARS %d: must be >= 1", c.MinOverlapChars)
	}
	return nil
}
