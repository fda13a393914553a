// Package config loads process configuration from KEYREGISTRY_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	id "keyregistry/pkg/domain"
)

const envPrefix = "KEYREGISTRY_"

// Config is the full process configuration.
type Config struct {
	Server    Server          `envPrefix:"SERVER_"`
	Registry  Registry        `envPrefix:"REGISTRY_"`
	Auth      Auth            `envPrefix:"AUTH_"`
	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	Otel      OtelConfig      `envPrefix:"OTEL_"`
	RateLimit RateLimitConfig `envPrefix:"RATELIMIT_"`
	LogLevel  string          `env:"LOG_LEVEL" envDefault:"info"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	TrustProxy      bool          `env:"TRUST_PROXY" envDefault:"false"`
}

// Registry is the initial governance state, applied only when the store has
// no settings yet, plus the signing domain.
type Registry struct {
	Owner              id.Address    `env:"OWNER,required"`
	Migrator           id.Address    `env:"MIGRATOR"`
	Gateway            id.Address    `env:"GATEWAY"`
	Guardians          []id.Address  `env:"GUARDIANS"`
	MaxKeysPerIdentity uint32        `env:"MAX_KEYS_PER_IDENTITY" envDefault:"0"`
	GracePeriod        time.Duration `env:"GRACE_PERIOD" envDefault:"24h"`
	IdentitySeed       string        `env:"IDENTITY_SEED"`

	DomainName        string     `env:"DOMAIN_NAME" envDefault:"KeyRegistry"`
	DomainVersion     string     `env:"DOMAIN_VERSION" envDefault:"1"`
	ChainID           uint64     `env:"CHAIN_ID" envDefault:"10"`
	VerifyingContract id.Address `env:"VERIFYING_CONTRACT"`
}

// Auth configures caller bearer tokens.
type Auth struct {
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"keyregistry"`
	JWTAudience   string `env:"JWT_AUDIENCE" envDefault:"keyregistry-api"`
}

// DatabaseConfig selects the PostgreSQL store when DSN is set.
type DatabaseConfig struct {
	DSN          string `env:"DSN"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
}

// RedisConfig configures the mirror projection. An empty URL keeps the
// projection in memory.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	MirrorPrefix string        `env:"MIRROR_PREFIX" envDefault:"keyregistry:mirror"`
}

// KafkaConfig configures the event outbox relay. No brokers disables it.
type KafkaConfig struct {
	Brokers       []string      `env:"BROKERS"`
	Topic         string        `env:"TOPIC" envDefault:"keyregistry.events"`
	ConsumerGroup string        `env:"CONSUMER_GROUP" envDefault:"keyregistry-mirror"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"100"`
}

// OtelConfig enables OTLP trace export when Endpoint is set.
type OtelConfig struct {
	Endpoint string `env:"ENDPOINT"`
	Enabled  bool   `env:"ENABLED" envDefault:"true"`
}

// RateLimitConfig bounds requests per client. Zero Requests disables it.
// Counts live in Redis when Redis is configured.
type RateLimitConfig struct {
	Requests int           `env:"REQUESTS" envDefault:"120"`
	Window   time.Duration `env:"WINDOW" envDefault:"1m"`
	Prefix   string        `env:"PREFIX" envDefault:"keyregistry:ratelimit"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Registry.GracePeriod <= 0 {
		return Config{}, fmt.Errorf("grace period must be positive")
	}
	if cfg.Kafka.BatchSize <= 0 {
		return Config{}, fmt.Errorf("kafka batch size must be positive")
	}
	return cfg, nil
}
