package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "NGN", cfg.Currency)
	assert.Equal(t, "5 0 * * *", cfg.AccrualSchedule)
	assert.Equal(t, 4, cfg.AccrualWorkers)
	assert.True(t, cfg.AccrualSettleMatured)
	assert.Equal(t, "log", cfg.Notifier)
	assert.Equal(t, []string{"*"}, cfg.Origins())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/savings")
	t.Setenv("ACCRUAL_WORKERS", "8")
	t.Setenv("ACCRUAL_SETTLE_MATURED", "false")
	t.Setenv("NOTIFIER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 8, cfg.AccrualWorkers)
	assert.False(t, cfg.AccrualSettleMatured)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CURRENCY=usd\nTIMEZONE=UTC\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CURRENCY")
		os.Unsetenv("TIMEZONE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.Currency)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown driver", "DATABASE_DRIVER", "mongo"},
		{"unknown notifier", "NOTIFIER", "sms"},
		{"amqp without url", "NOTIFIER", "amqp"},
		{"bad currency", "CURRENCY", "XXX"},
		{"bad timezone", "TIMEZONE", "Mars/Olympus"},
		{"zero workers", "ACCRUAL_WORKERS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
