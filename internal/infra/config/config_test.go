package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "secret")
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, int64(500), cfg.ServiceFeeBPS)
	assert.Equal(t, int64(300000), cfg.ProtectionPlanFee)
	assert.Equal(t, "UZS", cfg.Currency)
	assert.Equal(t, "Paycom", cfg.PaymeLogin)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.Equal(t, 168*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 24*time.Hour, cfg.SelectionPaymentWindow)
	assert.True(t, cfg.SweeperEnabled)
	assert.False(t, cfg.PaymeEnabled())
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadReadsEnvFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CURRENCY", "")
	os.Unsetenv("CURRENCY")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CURRENCY=usd\nCLICK_SERVICE_ID=42\nCLICK_SECRET_KEY=k\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CLICK_SERVICE_ID")
		os.Unsetenv("CLICK_SECRET_KEY")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.Currency)
	assert.True(t, cfg.ClickEnabled())
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load(missingEnvFile(t))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
}

func TestLoadMongoRequiresBrokers(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_DRIVER", "Mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("KAFKA_BROKERS", "")

	_, err := Load(missingEnvFile(t))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoadParsesBrokerList(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_DRIVER", "sqlite")

	_, err := Load(missingEnvFile(t))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SWEEPER_INTERVAL", "soon")

	_, err := Load(missingEnvFile(t))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateFeeBounds(t *testing.T) {
	cfg := Config{StorageDriver: DriverMemory, JWTSecret: "s", ServiceFeeBPS: 10001}
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
