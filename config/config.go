/*
Package config loads the property engine's settings.

SOURCES (later wins):
  1. Built-in defaults (Defaults)
  2. Optional YAML file (--config)
  3. .env in the working directory (loaded into the environment)
  4. ABCHOTELS_* environment variables, "." replaced by "_"
     e.g. ABCHOTELS_AUDIT_HOUR=3, ABCHOTELS_REDIS_ADDRESS=localhost:6379
  5. Command-line flags bound to the same viper instance

KEYS:
  http.port, http.allowed_origins
  database.path
  property.id, property.name_prefix
  population.sync_window_days, population.async_window_days
  jobs.workers, jobs.queue_size
  audit.enabled, audit.check_interval, audit.hour,
  audit.advance_on_partial_failure, audit.lock_ttl
  redis.address, redis.password, redis.db, redis.channel_prefix
  log.level, log.format

An empty redis.address runs locks and the progress hub in-process only.
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/darwishdev/abc-hotels/hotel"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "ABCHOTELS"

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Property   PropertyConfig   `mapstructure:"property" yaml:"property"`
	Population PopulationConfig `mapstructure:"population" yaml:"population"`
	Jobs       JobsConfig       `mapstructure:"jobs" yaml:"jobs"`
	Audit      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type HTTPConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type PropertyConfig struct {
	ID         string `mapstructure:"id" yaml:"id"`
	NamePrefix string `mapstructure:"name_prefix" yaml:"name_prefix"`
}

type PopulationConfig struct {
	SyncWindowDays  int `mapstructure:"sync_window_days" yaml:"sync_window_days"`
	AsyncWindowDays int `mapstructure:"async_window_days" yaml:"async_window_days"`
}

type JobsConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

type AuditConfig struct {
	Enabled                 bool          `mapstructure:"enabled" yaml:"enabled"`
	CheckInterval           time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	Hour                    int           `mapstructure:"hour" yaml:"hour"`
	AdvanceOnPartialFailure bool          `mapstructure:"advance_on_partial_failure" yaml:"advance_on_partial_failure"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

type RedisConfig struct {
	Address       string `mapstructure:"address" yaml:"address"`
	Password      string `mapstructure:"password" yaml:"password,omitempty"`
	DB            int    `mapstructure:"db" yaml:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool { return r.Address != "" }

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults are applied before any file or environment value.
var Defaults = map[string]any{
	"http.port":                        8080,
	"http.allowed_origins":             []string{"*"},
	"database.path":                    "./data/abchotels.db",
	"property.id":                      hotel.DefaultPropertyID,
	"property.name_prefix":             "INVE-",
	"population.sync_window_days":      30,
	"population.async_window_days":     7,
	"jobs.workers":                     2,
	"jobs.queue_size":                  64,
	"audit.enabled":                    true,
	"audit.check_interval":             "15m",
	"audit.hour":                       2,
	"audit.advance_on_partial_failure": false,
	"audit.lock_ttl":                   "10m",
	"redis.address":                    "",
	"redis.password":                   "",
	"redis.db":                         0,
	"redis.channel_prefix":             "abchotels",
	"log.level":                        "info",
	"log.format":                       "json",
}

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range Defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (optional) and .env into v and returns the validated config.
// A nil v uses New().
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes over the defaults.
func FromYAML(data []byte) (*Config, error) {
	v := New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures every setting is usable.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return &hotel.ConfigError{Setting: "http.port", Reason: "must be between 1 and 65535"}
	}
	if c.Database.Path == "" {
		return &hotel.ConfigError{Setting: "database.path", Reason: "is required"}
	}
	if c.Property.ID == "" {
		return &hotel.ConfigError{Setting: "property.id", Reason: "is required"}
	}
	if c.Population.SyncWindowDays < 1 {
		return &hotel.ConfigError{Setting: "population.sync_window_days", Reason: "must be at least 1"}
	}
	if c.Population.AsyncWindowDays < 1 {
		return &hotel.ConfigError{Setting: "population.async_window_days", Reason: "must be at least 1"}
	}
	if c.Jobs.Workers < 1 {
		return &hotel.ConfigError{Setting: "jobs.workers", Reason: "must be at least 1"}
	}
	if c.Jobs.QueueSize < 1 {
		return &hotel.ConfigError{Setting: "jobs.queue_size", Reason: "must be at least 1"}
	}
	if c.Audit.Hour < 0 || c.Audit.Hour > 23 {
		return &hotel.ConfigError{Setting: "audit.hour", Reason: "must be between 0 and 23"}
	}
	if c.Audit.CheckInterval <= 0 {
		return &hotel.ConfigError{Setting: "audit.check_interval", Reason: "must be positive"}
	}
	if c.Audit.LockTTL < time.Second {
		return &hotel.ConfigError{Setting: "audit.lock_ttl", Reason: "must be at least 1s"}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return &hotel.ConfigError{Setting: "log.level", Reason: err.Error()}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return &hotel.ConfigError{Setting: "log.format", Reason: `must be "json" or "text"`}
	}
	return nil
}

// YAML renders the effective config. The Redis password is masked.
func (c *Config) YAML() (string, error) {
	shown := *c
	if shown.Redis.Password != "" {
		shown.Redis.Password = "********"
	}
	out, err := yaml.Marshal(shown)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewLogger builds the process logger from the log settings.
func NewLogger(c LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, &hotel.ConfigError{Setting: "log.level", Reason: err.Error()}
	}
	if out == nil {
		out = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if c.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}
