package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "STORE_DRIVER", "TX_RETRIES", "CREATE_TX_MAX_WAIT", "KAFKA_BROKERS", "GATEWAY_FX_RATE"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 3, cfg.TxRetries)
	assert.Equal(t, 10*time.Second, cfg.CreateTxMaxWait)
	assert.Equal(t, 20*time.Second, cfg.TransitionTxTimeout)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "23000", cfg.PayPal.FXRate)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CREATE_TX_MAX_WAIT", "250ms")
	t.Setenv("TRANSITION_TX_TIMEOUT", "soon")
	t.Setenv("TX_RETRIES", "-1")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("STORE_CURRENCY_EXPONENT", "2")
	t.Setenv("PROJECTOR_WORKERS", "8")
	t.Setenv("DEMO_USER_UUID", "6f1c1a52-8f53-4c6e-9d43-0c1f3c1c9a10")

	cfg := Load()

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.CreateTxMaxWait)
	assert.Equal(t, 20*time.Second, cfg.TransitionTxTimeout, "invalid duration falls back")
	assert.Equal(t, 3, cfg.TxRetries, "negative retries fall back")
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, int32(2), cfg.PayPal.StoreExponent)
	assert.Equal(t, 8, cfg.ProjectorWorkers)
	assert.Equal(t, "6f1c1a52-8f53-4c6e-9d43-0c1f3c1c9a10", cfg.DemoUserUUID)
}
