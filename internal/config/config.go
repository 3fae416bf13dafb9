package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the process-wide configuration. It is loaded once at startup
// and treated as immutable for the process lifetime.
type Config struct {
	Server    ServerConfig
	Locator   LocatorConfig
	Appraiser AppraiserConfig
	Pipeline  PipelineConfig
	Log       LogConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// LocatorConfig holds the object detection service settings.
type LocatorConfig struct {
	Endpoint string
	APIKey   string
	Provider string
	Timeout  time.Duration
}

// AppraiserConfig holds the vision model settings. Backend selects the
// client implementation: "openai" for any OpenAI-compatible server (Groq,
// llama.cpp) or "ollama".
type AppraiserConfig struct {
	Backend string
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	Workers int
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads configuration from the environment, with a .env file applied
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_ADDR", ":4000")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("LOCATOR_ENDPOINT", "https://api.edenai.run/v2/image/object_detection")
	v.SetDefault("LOCATOR_PROVIDER", "api4ai")
	v.SetDefault("LOCATOR_TIMEOUT", "30s")
	v.SetDefault("APPRAISER_BACKEND", "openai")
	v.SetDefault("APPRAISER_URL", "https://api.groq.com/openai")
	v.SetDefault("APPRAISER_MODEL", "llama-3.2-90b-vision-preview")
	v.SetDefault("APPRAISER_TIMEOUT", "120s")
	v.SetDefault("PIPELINE_WORKERS", 4)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            v.GetString("SERVER_ADDR"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		},
		Locator: LocatorConfig{
			Endpoint: v.GetString("LOCATOR_ENDPOINT"),
			APIKey:   v.GetString("LOCATOR_API_KEY"),
			Provider: v.GetString("LOCATOR_PROVIDER"),
			Timeout:  v.GetDuration("LOCATOR_TIMEOUT"),
		},
		Appraiser: AppraiserConfig{
			Backend: strings.ToLower(v.GetString("APPRAISER_BACKEND")),
			URL:     v.GetString("APPRAISER_URL"),
			APIKey:  v.GetString("APPRAISER_API_KEY"),
			Model:   v.GetString("APPRAISER_MODEL"),
			Timeout: v.GetDuration("APPRAISER_TIMEOUT"),
		},
		Pipeline: PipelineConfig{
			Workers: v.GetInt("PIPELINE_WORKERS"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Pretty: v.GetBool("LOG_PRETTY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Locator.Endpoint == "" {
		return fmt.Errorf("LOCATOR_ENDPOINT is required")
	}
	if c.Locator.APIKey == "" {
		return fmt.Errorf("LOCATOR_API_KEY is required")
	}
	if c.Locator.Provider == "" {
		return fmt.Errorf("LOCATOR_PROVIDER is required")
	}
	if c.Appraiser.Backend != "openai" && c.Appraiser.Backend != "ollama" {
		return fmt.Errorf("APPRAISER_BACKEND must be \"openai\" or \"ollama\", got %q", c.Appraiser.Backend)
	}
	if c.Appraiser.URL == "" {
		return fmt.Errorf("APPRAISER_URL is required")
	}
	if c.Appraiser.Model == "" {
		return fmt.Errorf("APPRAISER_MODEL is required")
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 32 {
		return fmt.Errorf("PIPELINE_WORKERS must be between 1 and 32, got %d", c.Pipeline.Workers)
	}
	if c.Locator.Timeout <= 0 || c.Appraiser.Timeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
