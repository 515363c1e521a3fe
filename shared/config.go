package shared

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

type Config struct {
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

type SessionConfig struct {
	Provider Provider `yaml:"provider"`
	Model    string   `yaml:"model"`
	Voice    string   `yaml:"voice"`
	// Greeting is sent as the first user turn once the session is open.
	Greeting string `yaml:"greeting"`
	BaseURL  string `yaml:"base_url"`
}

type AudioConfig struct {
	InputSampleRate  int           `yaml:"input_sample_rate"`
	OutputSampleRate int           `yaml:"output_sample_rate"`
	BlockSize        int           `yaml:"block_size"`
	OutputBuffer     time.Duration `yaml:"output_buffer"`
	VolumeInterval   time.Duration `yaml:"volume_interval"`
	Mute             bool          `yaml:"mute"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	// ConnectTimeout bounds a Connect started from the control surface.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Provider: ProviderGemini,
			Model:    "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:    "Fenrir",
			Greeting: "The session has started. Greet me with the time.",
		},
		Audio: AudioConfig{
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			BlockSize:        4096,
			OutputBuffer:     100 * time.Millisecond,
			VolumeInterval:   time.Second / 60,
		},
		HTTP: HTTPConfig{
			Address:        "127.0.0.1:8089",
			ConnectTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "cli/cli.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values from CHRONO_* environment variables.
func (c *Config) ApplyEnv() error {
	provider, err := Getenv(GetenvString, "CHRONO_PROVIDER", false, string(c.Session.Provider))
	if err != nil {
		return err
	}
	c.Session.Provider = Provider(provider)
	if c.Session.Model, err = Getenv(GetenvString, "CHRONO_MODEL", false, c.Session.Model); err != nil {
		return err
	}
	if c.Session.Voice, err = Getenv(GetenvString, "CHRONO_VOICE", false, c.Session.Voice); err != nil {
		return err
	}
	if c.Session.BaseURL, err = Getenv(GetenvString, "CHRONO_BASE_URL", false, c.Session.BaseURL); err != nil {
		return err
	}
	if c.Audio.Mute, err = Getenv(GetenvBool, "CHRONO_MUTE", false, c.Audio.Mute); err != nil {
		return err
	}
	if c.HTTP.Enabled, err = Getenv(GetenvBool, "CHRONO_HTTP_ENABLED", false, c.HTTP.Enabled); err != nil {
		return err
	}
	if c.HTTP.Address, err = Getenv(GetenvString, "CHRONO_HTTP_ADDRESS", false, c.HTTP.Address); err != nil {
		return err
	}
	if c.Logging.Level, err = Getenv(GetenvString, "CHRONO_LOG_LEVEL", false, c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.File, err = Getenv(GetenvString, "CHRONO_LOG_FILE", false, c.Logging.File); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	switch c.Session.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", c.Session.Provider)
	}
	if c.Session.Model == "" {
		return fmt.Errorf("session model is required")
	}
	if c.Audio.InputSampleRate != 16000 {
		return fmt.Errorf("input sample rate must be 16000, got %d", c.Audio.InputSampleRate)
	}
	if c.Audio.OutputSampleRate != 24000 {
		return fmt.Errorf("output sample rate must be 24000, got %d", c.Audio.OutputSampleRate)
	}
	if c.Audio.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.Audio.BlockSize)
	}
	if c.Audio.VolumeInterval <= 0 {
		return fmt.Errorf("volume interval must be positive, got %s", c.Audio.VolumeInterval)
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
