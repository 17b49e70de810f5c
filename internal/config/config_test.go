package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, BackendMemory, cfg.Cart.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cart.TTL)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("CART_BACKEND", "redis")
	t.Setenv("CART_TTL", "5m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("INVENTORY_LOW_STOCK_THRESHOLD", "12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, BackendRedis, cfg.Cart.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cart.TTL)
	assert.Equal(t, 3, cfg.Cart.RedisDB)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, 12, cfg.Inventory.LowStockThreshold)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "lots")
	t.Setenv("SERVER_READ_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CART_BACKEND", "memcached")

	_, err := Load()
	assert.ErrorContains(t, err, "CART_BACKEND")
}

func TestValidateCheckoutConcurrency(t *testing.T) {
	t.Setenv("CHECKOUT_VALIDATION_CONCURRENCY", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "CHECKOUT_VALIDATION_CONCURRENCY")
}

func TestValidateCartSweepInterval(t *testing.T) {
	for _, interval := range []string{"0s", "-1m"} {
		t.Run(interval, func(t *testing.T) {
			t.Setenv("CART_SWEEP_INTERVAL", interval)

			_, err := Load()
			assert.ErrorContains(t, err, "CART_SWEEP_INTERVAL")
		})
	}
}

func TestSweepIntervalIgnoredForRedisCarts(t *testing.T) {
	t.Setenv("CART_BACKEND", "redis")
	t.Setenv("CART_SWEEP_INTERVAL", "0s")

	_, err := Load()
	assert.NoError(t, err)
}
