package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Stage     StageConfig     `yaml:"stage" mapstructure:"stage"`
	Trigger   TriggerConfig   `yaml:"trigger" mapstructure:"trigger"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// BlobConfig configures the financial-document blob store.
type BlobConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	Region string `yaml:"region" mapstructure:"region"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// StageConfig tunes enrichment stage execution.
type StageConfig struct {
	CallTimeoutSecs int   `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxTokens       int64 `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// TriggerConfig configures background stage dispatch.
type TriggerConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CallTimeout returns the stage call timeout as a duration.
func (c StageConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// InitialBackoff returns the retry base delay as a duration.
func (c TriggerConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

// Validate checks that the fields required for the given mode are present.
// Modes: "serve" (full pipeline), "migrate" (store only).
func (c *Config) Validate(mode string) error {
	var missing []string

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url is required for driver postgres")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				missing = append(missing, "store.sqlite_path is required for driver sqlite")
			}
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "serve":
		checkStore()
		switch c.Blob.Driver {
		case "local":
			if c.Blob.Dir == "" {
				missing = append(missing, "blob.dir is required for driver local")
			}
		case "s3":
			if c.Blob.Bucket == "" {
				missing = append(missing, "blob.bucket is required for driver s3")
			}
		default:
			missing = append(missing, "blob.driver must be local or s3")
		}
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
		if c.Trigger.Workers < 1 || c.Trigger.Workers > 64 {
			missing = append(missing, "trigger.workers must be between 1 and 64")
		}
	case "migrate":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LAYERONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "layerone.db")
	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.dir", "documents")
	v.SetDefault("blob.bucket", "financial-documents")
	v.SetDefault("blob.region", "us-east-1")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("stage.call_timeout_secs", 120)
	v.SetDefault("stage.max_tokens", 4096)
	v.SetDefault("trigger.workers", 4)
	v.SetDefault("trigger.max_attempts", 3)
	v.SetDefault("trigger.initial_backoff_ms", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
