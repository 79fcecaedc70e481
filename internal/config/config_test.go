package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.PendingTTL)
	assert.Equal(t, 10*time.Minute, cfg.MatchTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.PromotionDelay)
	assert.Equal(t, 5*time.Second, cfg.CleanupInterval)
	assert.False(t, cfg.TrustProxy)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EXCHANGE_LISTEN_ADDR", ":9000")
	t.Setenv("EXCHANGE_REDIS_DB", "3")
	t.Setenv("EXCHANGE_NATS_URL", "nats://nats:4222")
	t.Setenv("EXCHANGE_PENDING_TTL", "45s")
	t.Setenv("EXCHANGE_PROMOTION_DELAY", "2s")
	t.Setenv("EXCHANGE_TRUST_PROXY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "nats://nats:4222", cfg.NATSURL)
	assert.Equal(t, 45*time.Second, cfg.PendingTTL)
	assert.Equal(t, 2*time.Second, cfg.PromotionDelay)
	assert.True(t, cfg.TrustProxy)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"EXCHANGE_REDIS_DB":         "x",
		"EXCHANGE_MATCH_TTL":        "soon",
		"EXCHANGE_CLEANUP_INTERVAL": "-1s",
		"EXCHANGE_TRUST_PROXY":      "maybe",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
