// Package config loads and validates application configuration from YAML files
// with .env and environment-variable overrides. It provides typed structs for
// every subsystem (Server, Postgres, Kafka, Redis, Corpus, Linker, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Document source kinds accepted by CorpusConfig.Source.
const (
	SourcePostgres   = "postgres"
	SourceFilesystem = "filesystem"
)

// ErrInvalidConfig is returned by Validate for unusable settings.
var ErrInvalidConfig = apperrors.ErrInvalidConfig

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Linker    LinkerConfig    `yaml:"linker"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	VaultChanges string `yaml:"vaultChanges"`
	LinkEvents   string `yaml:"linkEvents"`
}

// RedisConfig holds Redis connection and resolve-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CorpusConfig controls where documents come from and how the corpus index
// derives terms from them.
type CorpusConfig struct {
	Source                  string        `yaml:"source"`
	VaultDir                string        `yaml:"vaultDir"`
	Extension               string        `yaml:"extension"`
	ExcludedPrefixes        []string      `yaml:"excludedPrefixes"`
	GenerateImplicitAliases bool          `yaml:"generateImplicitAliases"`
	Debounce                time.Duration `yaml:"debounce"`
	LoadTimeout             time.Duration `yaml:"loadTimeout"`
}

// LinkerConfig controls the reference resolver.
type LinkerConfig struct {
	MaxCandidatesBeforeSkip int   `yaml:"maxCandidatesBeforeSkip"`
	MaxTextBytes            int64 `yaml:"maxTextBytes"`
}

// RateLimitConfig controls the per-client token bucket on the public API.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requestsPerWindow"`
	Window            time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), loads any .env file found in
// the working directory and applies environment-variable overrides. It returns
// a Config populated with sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Linker.MaxCandidatesBeforeSkip <= 0 {
		return fmt.Errorf("%w: linker.maxCandidatesBeforeSkip must be positive, got %d",
			ErrInvalidConfig, c.Linker.MaxCandidatesBeforeSkip)
	}
	switch c.Corpus.Source {
	case SourcePostgres:
	case SourceFilesystem:
		if c.Corpus.VaultDir == "" {
			return fmt.Errorf("%w: corpus.vaultDir is required for the filesystem source", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown corpus.source %q", ErrInvalidConfig, c.Corpus.Source)
	}
	if c.Corpus.Debounce < 0 {
		return fmt.Errorf("%w: corpus.debounce must not be negative", ErrInvalidConfig)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "meetinglinker",
			User:            "meetinglinker",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "meetinglinker-group",
			Topics: KafkaTopics{
				VaultChanges: "vault.changes",
				LinkEvents:   "link.events",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Corpus: CorpusConfig{
			Source:                  SourceFilesystem,
			VaultDir:                "vault",
			Extension:               ".md",
			GenerateImplicitAliases: true,
			Debounce:                500 * time.Millisecond,
			LoadTimeout:             30 * time.Second,
		},
		Linker: LinkerConfig{
			MaxCandidatesBeforeSkip: 3,
			MaxTextBytes:            1 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 120,
			Window:            time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ML_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ML_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ML_SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ML_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ML_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("ML_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("ML_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("ML_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ML_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("ML_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("ML_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ML_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("ML_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ML_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ML_CORPUS_SOURCE"); v != "" {
		cfg.Corpus.Source = v
	}
	if v := os.Getenv("ML_CORPUS_VAULT_DIR"); v != "" {
		cfg.Corpus.VaultDir = v
	}
	if v := os.Getenv("ML_CORPUS_EXCLUDED_PREFIXES"); v != "" {
		cfg.Corpus.ExcludedPrefixes = strings.Split(v, ",")
	}
	if v := os.Getenv("ML_CORPUS_IMPLICIT_ALIASES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Corpus.GenerateImplicitAliases = b
		}
	}
	if v := os.Getenv("ML_CORPUS_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Corpus.Debounce = d
		}
	}
	if v := os.Getenv("ML_LINKER_MAX_CANDIDATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Linker.MaxCandidatesBeforeSkip = n
		}
	}
	if v := os.Getenv("ML_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ML_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ML_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
