// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	DefaultRegion string
	AdminToken    string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Webhook  WebhookConfig
	Ledger   LedgerConfig
	Staff    StaffConfig
}

// DatabaseConfig configures the Postgres pool. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures domain event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ReplayBackend selects where consumed webhook nonces are stored.
type ReplayBackend string

const (
	ReplayBackendPostgres ReplayBackend = "postgres"
	ReplayBackendRedis    ReplayBackend = "redis"
	ReplayBackendMemory   ReplayBackend = "memory"
)

// WebhookConfig configures inbound webhook authenticity and replay protection.
type WebhookConfig struct {
	// Secrets maps provider name to its shared HMAC secret. A missing or empty
	// secret disables signature validation for that provider.
	Secrets         map[string]string
	FreshnessWindow time.Duration
	RetentionDays   int
	SweepInterval   time.Duration
	ReplayBackend   ReplayBackend
}

// Retention returns the nonce retention horizon.
func (w WebhookConfig) Retention() time.Duration {
	return time.Duration(w.RetentionDays) * 24 * time.Hour
}

// Secret returns the configured secret for provider.
func (w WebhookConfig) Secret(provider string) string {
	return w.Secrets[strings.ToLower(provider)]
}

// LedgerConfig configures loyalty defaults.
type LedgerConfig struct {
	StampsTarget int
}

// StaffConfig configures bearer tokens for administrative routes.
type StaffConfig struct {
	JWTSigningKey string
	Issuer        string
}

const (
	defaultFreshness     = 300 * time.Second
	defaultRetentionDays = 90
	defaultSweepInterval = time.Hour
	defaultStampsTarget  = 10
	webhookSecretPrefix  = "WEBHOOK_SECRET_"
)

// Load reads an optional .env file and then builds config from the environment.
func Load(files ...string) (Server, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, fmt.Errorf("load env file: %w", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envString("PATRON_ADDR", ":8080"),
		LogLevel:      envString("LOG_LEVEL", "info"),
		DefaultRegion: envString("DEFAULT_REGION", "BR"),
		AdminToken:    os.Getenv("ADMIN_API_TOKEN"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", "patron.domain-events"),
		},
		Webhook: WebhookConfig{
			Secrets:         webhookSecrets(os.Environ()),
			FreshnessWindow: time.Duration(envInt("WEBHOOK_FRESHNESS_SECONDS", int(defaultFreshness.Seconds()))) * time.Second,
			RetentionDays:   envInt("EVENT_RETENTION_DAYS", defaultRetentionDays),
			SweepInterval:   envDuration("EVENT_SWEEP_INTERVAL", defaultSweepInterval),
			ReplayBackend:   ReplayBackend(envString("REPLAY_BACKEND", string(ReplayBackendPostgres))),
		},
		Ledger: LedgerConfig{
			StampsTarget: envInt("LOYALTY_STAMPS_TARGET", defaultStampsTarget),
		},
		Staff: StaffConfig{
			JWTSigningKey: os.Getenv("STAFF_JWT_SECRET"),
			Issuer:        envString("STAFF_JWT_ISSUER", "patron"),
		},
	}
}

// Validate reports every configuration problem at once.
func (c Server) Validate() error {
	var result *multierror.Error

	if c.Webhook.FreshnessWindow <= 0 {
		result = multierror.Append(result, errors.New("WEBHOOK_FRESHNESS_SECONDS must be positive"))
	}
	if c.Webhook.RetentionDays <= 0 {
		result = multierror.Append(result, errors.New("EVENT_RETENTION_DAYS must be positive"))
	}
	// A nonce purged while its signed timestamp is still fresh could be replayed.
	if c.Webhook.Retention() < c.Webhook.FreshnessWindow {
		result = multierror.Append(result, fmt.Errorf(
			"event retention (%s) must be at least the webhook freshness window (%s)",
			c.Webhook.Retention(), c.Webhook.FreshnessWindow))
	}
	if c.Webhook.SweepInterval <= 0 {
		result = multierror.Append(result, errors.New("EVENT_SWEEP_INTERVAL must be positive"))
	}
	switch c.Webhook.ReplayBackend {
	case ReplayBackendMemory:
	case ReplayBackendPostgres:
		if c.Database.URL == "" {
			result = multierror.Append(result, errors.New("REPLAY_BACKEND=postgres requires DATABASE_URL"))
		}
	case ReplayBackendRedis:
		if c.Redis.URL == "" {
			result = multierror.Append(result, errors.New("REPLAY_BACKEND=redis requires REDIS_URL"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown REPLAY_BACKEND %q", c.Webhook.ReplayBackend))
	}
	if c.Ledger.StampsTarget <= 0 {
		result = multierror.Append(result, errors.New("LOYALTY_STAMPS_TARGET must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		result = multierror.Append(result, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	return result.ErrorOrNil()
}

func webhookSecrets(environ []string) map[string]string {
	secrets := map[string]string{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if provider, found := strings.CutPrefix(key, webhookSecretPrefix); found && provider != "" {
			secrets[strings.ToLower(provider)] = value
		}
	}
	return secrets
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
