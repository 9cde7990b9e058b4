package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Server {
	return Server{
		Addr: ":8080",
		Webhook: WebhookConfig{
			FreshnessWindow: 300 * time.Second,
			RetentionDays:   90,
			SweepInterval:   time.Hour,
			ReplayBackend:   ReplayBackendMemory,
		},
		Ledger: LedgerConfig{StampsTarget: 10},
	}
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("retention shorter than freshness is rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Webhook.RetentionDays = 1
		cfg.Webhook.FreshnessWindow = 48 * time.Hour
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be at least the webhook freshness window")
	})

	t.Run("retention equal to freshness is accepted", func(t *testing.T) {
		cfg := validConfig()
		cfg.Webhook.RetentionDays = 1
		cfg.Webhook.FreshnessWindow = 24 * time.Hour
		assert.NoError(t, cfg.Validate())
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Webhook.ReplayBackend = ReplayBackendRedis
		cfg.Ledger.StampsTarget = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REPLAY_BACKEND=redis requires REDIS_URL")
		assert.Contains(t, err.Error(), "LOYALTY_STAMPS_TARGET must be positive")
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET_MANYCHAT", "mc-secret")
	t.Setenv("WEBHOOK_FRESHNESS_SECONDS", "120")
	t.Setenv("EVENT_RETENTION_DAYS", "30")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("REPLAY_BACKEND", "memory")

	cfg := FromEnv()
	assert.Equal(t, "mc-secret", cfg.Webhook.Secret("ManyChat"))
	assert.Equal(t, "", cfg.Webhook.Secret("telegram"))
	assert.Equal(t, 120*time.Second, cfg.Webhook.FreshnessWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.Webhook.Retention())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Ledger.StampsTarget)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PATRON_TEST_ONLY_ADDR=:9999\nREPLAY_BACKEND=memory\n"), 0o600))
	t.Setenv("REPLAY_BACKEND", "")
	os.Unsetenv("REPLAY_BACKEND")
	t.Cleanup(func() { os.Unsetenv("PATRON_TEST_ONLY_ADDR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ReplayBackendMemory, cfg.Webhook.ReplayBackend)
	assert.Equal(t, ":9999", os.Getenv("PATRON_TEST_ONLY_ADDR"))
}
