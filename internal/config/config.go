// Package config manages aws-sidekick configuration: an optional TOML file
// under ~/.aws-sidekick overlaid by SIDEKICK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/core"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	ConfigDirName       = ".aws-sidekick"
	ConfigFileName      = "config.toml"
	CredentialsFileName = "dev-credentials.json"
	SocketFileName      = "sidekick.sock"
	DefaultLogLevel     = "info"
	DefaultRegion       = core.DefaultRegion

	configDirMode  = 0o700
	configFileMode = 0o600
)

// Config holds process-wide settings. It is read once at startup.
type Config struct {
	// Environment and Debug form the deployment flag that selects the
	// credential store backend; see DevMode.
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`

	DataDir               string `mapstructure:"data_dir"`
	CredentialsFile       string `mapstructure:"credentials_file"`
	CredentialsPassphrase string `mapstructure:"credentials_passphrase"`
	SocketPath            string `mapstructure:"socket_path"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"` // console | json
	DefaultRegion string `mapstructure:"default_region"`

	TaskConcurrency     int           `mapstructure:"task_concurrency"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
	ValidatorTimeout    time.Duration `mapstructure:"validator_timeout"`
	RateLimitPerService int           `mapstructure:"rate_limit_per_service"` // req/s
}

// ConfigDir returns the per-user config directory.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("debug", false)
	v.SetDefault("data_dir", ConfigDir())
	v.SetDefault("credentials_file", "")
	v.SetDefault("credentials_passphrase", "")
	v.SetDefault("socket_path", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", "console")
	v.SetDefault("default_region", DefaultRegion)
	v.SetDefault("task_concurrency", 4)
	v.SetDefault("task_timeout", "5m")
	v.SetDefault("validator_timeout", "10s")
	v.SetDefault("rate_limit_per_service", 10)
}

// Default returns the configuration used when no file or env is present.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return cfg
}

// Load reads the config file at path (DefaultPath when empty). A missing file
// is not an error. Environment variables override file values; ENVIRONMENT
// and DEBUG are honored alongside SIDEKICK_ENVIRONMENT and SIDEKICK_DEBUG.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("SIDEKICK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("environment", "SIDEKICK_ENVIRONMENT", "ENVIRONMENT")
	_ = v.BindEnv("debug", "SIDEKICK_DEBUG", "DEBUG")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.DefaultRegion = strings.TrimSpace(c.DefaultRegion)
	if c.CredentialsFile == "" {
		c.CredentialsFile = filepath.Join(c.DataDir, CredentialsFileName)
	}
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.DataDir, SocketFileName)
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is empty")
	}
	if err := core.ValidateRegion(c.DefaultRegion); err != nil {
		return fmt.Errorf("config: default_region: %w", err)
	}
	if c.TaskConcurrency < 1 {
		return fmt.Errorf("config: task_concurrency must be at least 1, got %d", c.TaskConcurrency)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("config: task_timeout must be positive, got %s", c.TaskTimeout)
	}
	if c.ValidatorTimeout <= 0 {
		return fmt.Errorf("config: validator_timeout must be positive, got %s", c.ValidatorTimeout)
	}
	if c.RateLimitPerService < 1 {
		return fmt.Errorf("config: rate_limit_per_service must be at least 1, got %d", c.RateLimitPerService)
	}
	return nil
}

// DevMode reports whether the deployment is flagged as development, which
// enables the durable credential file. Anything else keeps credentials in
// memory only.
func (c Config) DevMode() bool {
	if c.Debug {
		return true
	}
	switch c.Environment {
	case "development", "dev", "local":
		return true
	}
	return false
}

// Save writes cfg as TOML to path. The passphrase is never written.
func Save(cfg Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), configDirMode); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	doc := map[string]any{
		"environment":            cfg.Environment,
		"debug":                  cfg.Debug,
		"data_dir":               cfg.DataDir,
		"credentials_file":       cfg.CredentialsFile,
		"socket_path":            cfg.SocketPath,
		"log_level":              cfg.LogLevel,
		"log_format":             cfg.LogFormat,
		"default_region":         cfg.DefaultRegion,
		"task_concurrency":       cfg.TaskConcurrency,
		"task_timeout":           cfg.TaskTimeout.String(),
		"validator_timeout":      cfg.ValidatorTimeout.String(),
		"rate_limit_per_service": cfg.RateLimitPerService,
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, configFileMode)
}
