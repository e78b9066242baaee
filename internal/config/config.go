// Package config loads and validates the service configuration at startup.
// Fail-fast: if a required value is missing or out of range, Load returns
// an error and the process exits.
//
// Values come, in increasing precedence, from defaults, an optional YAML
// file, a .env file and the environment (DATABASE_URL, SCORING_WEIGHTS_SKILLS, ...).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"jobmate/analysis-service/internal/scoring"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all runtime configuration for the analysis service.
type Config struct {
	Port        string `mapstructure:"port"`
	GRPCPort    string `mapstructure:"grpc-port"`
	DatabaseURL string `mapstructure:"database-url"`
	RedisURL    string `mapstructure:"redis-url"`

	// Events enables the Redis intake and outcome publishing.
	Events bool       `mapstructure:"events"`
	AMQP   AMQPConfig `mapstructure:",squash"`

	Store        string        `mapstructure:"store"`
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	MaxAttempts  int           `mapstructure:"max-attempts"`
	JobTimeout   time.Duration `mapstructure:"job-timeout"`
	ReapInterval time.Duration `mapstructure:"reap-interval"`

	Scoring scoring.Config `mapstructure:"scoring"`
}

// AMQPConfig configures the optional RabbitMQ intake. An empty URL
// disables it.
type AMQPConfig struct {
	URL        string `mapstructure:"amqp-url"`
	Exchange   string `mapstructure:"amqp-exchange"`
	RoutingKey string `mapstructure:"amqp-routing-key"`
	Queue      string `mapstructure:"amqp-queue"`
}

// SetDefaults registers every key with its default so environment
// overrides are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := scoring.DefaultConfig()

	v.SetDefault("port", "8083")
	v.SetDefault("grpc-port", "9083")
	v.SetDefault("database-url", "")
	v.SetDefault("redis-url", "")
	v.SetDefault("events", true)
	v.SetDefault("amqp-url", "")
	v.SetDefault("amqp-exchange", "applications")
	v.SetDefault("amqp-routing-key", "application.created")
	v.SetDefault("amqp-queue", "analysis-service.application-created")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("workers", 4)
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("max-attempts", 3)
	v.SetDefault("job-timeout", 2*time.Minute)
	v.SetDefault("reap-interval", time.Minute)
	v.SetDefault("scoring.weights.skills", d.Weights.Skills)
	v.SetDefault("scoring.weights.experience", d.Weights.Experience)
	v.SetDefault("scoring.weights.education", d.Weights.Education)
	v.SetDefault("scoring.weights.seniority", d.Weights.Seniority)
	v.SetDefault("scoring.thresholds.binary", d.Thresholds.Binary)
	v.SetDefault("scoring.thresholds.continuous", d.Thresholds.Continuous)
}

// Load reads configuration into v and returns a validated Config. path
// names an optional YAML file; dotenv names an optional .env file.
func Load(v *viper.Viper, path, dotenv string) (*Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}

	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("port", "ANALYSIS_PORT", "PORT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("grpc-port", "ANALYSIS_GRPC_PORT", "GRPC_PORT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Events && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required unless events are disabled")
	}
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.Port == "" || c.GRPCPort == "" {
		return fmt.Errorf("port and grpc-port are required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1, got %d", c.MaxAttempts)
	}
	for name, d := range map[string]time.Duration{
		"poll-interval": c.PollInterval,
		"job-timeout":   c.JobTimeout,
		"reap-interval": c.ReapInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.AMQP.URL != "" && (c.AMQP.Exchange == "" || c.AMQP.Queue == "") {
		return fmt.Errorf("amqp-exchange and amqp-queue are required with amqp-url")
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	return nil
}
