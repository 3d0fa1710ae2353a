package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PROMPTLOOP_REFINE_MAX_ITERATIONS.
const EnvPrefix = "PROMPTLOOP"

// Loader loads configuration with precedence defaults < config file < env.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFiles   []string
}

func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path. A missing explicit file
// is an error; the default search paths are optional.
func (l *Loader) SetConfigFile(path string) { l.configFile = path }

// SetEnvFiles overrides the .env files read before the environment is
// consulted. Missing files are ignored.
func (l *Loader) SetEnvFiles(paths ...string) { l.envFiles = paths }

func (l *Loader) Load() (*Config, error) {
	if len(l.envFiles) == 0 {
		_ = godotenv.Load()
	} else {
		for _, p := range l.envFiles {
			_ = godotenv.Load(p)
		}
	}

	l.setup(DefaultConfig())
	if err := l.readConfigFile(); err != nil {
		return nil, err
	}
	// Defaults arrive through SetDefault. Decoding into a zero Config keeps
	// configured lists from being merged element-wise with the defaults.
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.resolveAPIKey()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFileUsed returns the config file that was read, if any.
func (l *Loader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

func (l *Loader) setup(cfg *Config) {
	v := l.v
	v.SetConfigName("promptloop")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/promptloop")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider.name", cfg.Provider.Name)
	v.SetDefault("provider.model", cfg.Provider.Model)
	v.SetDefault("provider.embedding_model", cfg.Provider.EmbeddingModel)
	v.SetDefault("provider.base_url", cfg.Provider.BaseURL)
	v.SetDefault("provider.api_key", cfg.Provider.APIKey)
	v.SetDefault("provider.temperature", cfg.Provider.Temperature)
	v.SetDefault("provider.max_tokens", cfg.Provider.MaxTokens)
	v.SetDefault("provider.timeout", cfg.Provider.Timeout)
	v.SetDefault("provider.cache_size", cfg.Provider.CacheSize)
	v.SetDefault("provider.cache_ttl", cfg.Provider.CacheTTL)
	v.SetDefault("provider.rps", cfg.Provider.RPS)
	v.SetDefault("provider.burst", cfg.Provider.Burst)

	v.SetDefault("refine.max_iterations", cfg.Refine.MaxIterations)
	v.SetDefault("refine.retries", cfg.Refine.Retries)
	v.SetDefault("refine.retry_delay", cfg.Refine.RetryDelay)

	v.SetDefault("react.max_steps", cfg.React.MaxSteps)
	v.SetDefault("react.window", cfg.React.Window)

	v.SetDefault("sandbox.case_timeout", cfg.Sandbox.CaseTimeout)
	v.SetDefault("sandbox.load_timeout", cfg.Sandbox.LoadTimeout)
	v.SetDefault("sandbox.packages", cfg.Sandbox.Packages)

	v.SetDefault("audit.kind", cfg.Audit.Kind)
	v.SetDefault("audit.path", cfg.Audit.Path)
	v.SetDefault("audit.endpoint", cfg.Audit.Endpoint)
	v.SetDefault("audit.region", cfg.Audit.Region)
	v.SetDefault("audit.bucket", cfg.Audit.Bucket)
	v.SetDefault("audit.prefix", cfg.Audit.Prefix)
	v.SetDefault("audit.access_key", cfg.Audit.AccessKey)
	v.SetDefault("audit.secret_key", cfg.Audit.SecretKey)
	v.SetDefault("audit.use_ssl", cfg.Audit.UseSSL)
	v.SetDefault("audit.dsn", cfg.Audit.DSN)
	v.SetDefault("audit.url", cfg.Audit.URL)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

func (l *Loader) readConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	err := l.v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) && l.configFile == "" {
		return nil
	}
	return fmt.Errorf("config: read %s: %w", l.configFile, err)
}

// Load loads configuration from the default search paths, or from path when
// it is non-empty.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.SetConfigFile(path)
	}
	return l.Load()
}
