// Package config loads promptloop settings from defaults, an optional YAML
// file, a .env file and PROMPTLOOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"promptloop/internal/audit"
	llmclient "promptloop/internal/llm/client"
	"promptloop/internal/sandbox"
)

var validate = validator.New()

type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Refine   RefineConfig   `mapstructure:"refine"`
	React    ReactConfig    `mapstructure:"react"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Audit    audit.Config   `mapstructure:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ProviderConfig struct {
	Name           string        `mapstructure:"name" validate:"required,oneof=openai groq gemini"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey         string        `mapstructure:"api_key"`
	Temperature    float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int           `mapstructure:"max_tokens" validate:"gte=0"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	CacheSize      int           `mapstructure:"cache_size" validate:"gte=0"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	// RPS caps requests per second; zero disables the limit.
	RPS            float64       `mapstructure:"rps" validate:"gte=0"`
	Burst          int           `mapstructure:"burst" validate:"gte=0"`
}

type RefineConfig struct {
	MaxIterations int           `mapstructure:"max_iterations" validate:"min=1,max=20"`
	Retries       int           `mapstructure:"retries" validate:"min=1,max=10"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

type ReactConfig struct {
	MaxSteps int `mapstructure:"max_steps" validate:"min=1,max=100"`
	Window   int `mapstructure:"window" validate:"min=1"`
}

type SandboxConfig struct {
	CaseTimeout time.Duration `mapstructure:"case_timeout" validate:"gt=0"`
	LoadTimeout time.Duration `mapstructure:"load_timeout" validate:"gt=0"`
	Packages    []string      `mapstructure:"packages"`
}

type LoggingConfig struct {
	Level        string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format       string `mapstructure:"format" validate:"oneof=console json"`
	EnableCaller bool   `mapstructure:"enable_caller"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:      "openai",
			Timeout:   60 * time.Second,
			CacheSize: 256,
			CacheTTL:  10 * time.Minute,
		},
		Refine: RefineConfig{
			MaxIterations: 3,
			Retries:       3,
			RetryDelay:    500 * time.Millisecond,
		},
		React: ReactConfig{
			MaxSteps: 15,
			Window:   3,
		},
		Sandbox: SandboxConfig{
			CaseTimeout: sandbox.DefaultCaseTimeout,
			LoadTimeout: sandbox.DefaultLoadTimeout,
			Packages:    append([]string(nil), sandbox.DefaultPackages...),
		},
		Audit: audit.Config{Kind: "none", Region: "us-east-1", Prefix: "runs"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks field ranges and provider credentials.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.Audit.Kind) {
	case "file":
		if strings.TrimSpace(c.Audit.Path) == "" {
			return fmt.Errorf("config: audit.path is required for file audit")
		}
	case "s3":
		if c.Audit.Endpoint == "" || c.Audit.Bucket == "" {
			return fmt.Errorf("config: audit.endpoint and audit.bucket are required for s3 audit")
		}
	case "postgres":
		if c.Audit.DSN == "" {
			return fmt.Errorf("config: audit.dsn is required for postgres audit")
		}
	case "websocket":
		if c.Audit.URL == "" {
			return fmt.Errorf("config: audit.url is required for websocket audit")
		}
	}
	return nil
}

// providerKeyEnv names the conventional API key variable per provider.
var providerKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"groq":   "GROQ_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// resolveAPIKey fills Provider.APIKey from the provider's conventional
// variable when it was not set explicitly.
func (c *Config) resolveAPIKey() {
	if strings.TrimSpace(c.Provider.APIKey) != "" {
		return
	}
	if env, ok := providerKeyEnv[strings.ToLower(c.Provider.Name)]; ok {
		c.Provider.APIKey = strings.TrimSpace(os.Getenv(env))
	}
}

// ClientOptions converts the provider section for the client catalog.
func (c *Config) ClientOptions() llmclient.Options {
	return llmclient.Options{
		Provider:       c.Provider.Name,
		Model:          c.Provider.Model,
		APIKey:         c.Provider.APIKey,
		BaseURL:        c.Provider.BaseURL,
		EmbeddingModel: c.Provider.EmbeddingModel,
		Timeout:        c.Provider.Timeout,
	}
}

// SandboxOptions converts the sandbox section.
func (c *Config) SandboxOptions() sandbox.Options {
	return sandbox.Options{
		Packages:    c.Sandbox.Packages,
		CaseTimeout: c.Sandbox.CaseTimeout,
		LoadTimeout: c.Sandbox.LoadTimeout,
	}
}
