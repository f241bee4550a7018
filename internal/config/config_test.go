package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CART_IDLE_TTL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 20*time.Minute, cfg.Sweeper.CartIdleTTL)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.CartInterval)
	assert.Equal(t, 3*time.Hour, cfg.Sweeper.OrderPendingTTL)
	assert.True(t, cfg.MigrateOnStart)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CART_IDLE_TTL", "90s")
	t.Setenv("ORDER_SWEEP_INTERVAL", "nonsense")
	t.Setenv("P24_MERCHANT_ID", "12345")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Second, cfg.Sweeper.CartIdleTTL)
	assert.Equal(t, 3*time.Hour, cfg.Sweeper.OrderInterval)
	assert.Equal(t, 12345, cfg.P24.MerchantID)
	assert.False(t, cfg.MigrateOnStart)
}
