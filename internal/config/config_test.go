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

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "immuni", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, 30, cfg.Validation.MaxKeysPerUpload)
	assert.True(t, cfg.Validation.AllowNonConsecutiveTeks)
	assert.True(t, cfg.Validation.ExcludeCurrentDayTek)
	assert.Equal(t, 2, cfg.Validation.DaysBeforeSymptomsToConsiderKeyAtRisk)

	assert.Equal(t, 10000, cfg.Batch.MaxKeysPerBatch)
	assert.Equal(t, "0 0 * * *", cfg.Batch.PeriodicityCrontab)
	assert.Equal(t, "0 0 * * *", cfg.Batch.EuPeriodicityCrontab)
	assert.Equal(t, 14, cfg.Retention.Days)

	assert.Equal(t, "222", cfg.Export.Region)
	assert.Equal(t, "EK Export v1", cfg.Export.BinHeader)
	assert.Equal(t, "it.ministerodellasalute.immuni", cfg.Export.AppBundleID)
	assert.Equal(t, "v1", cfg.Export.VerificationKeyVersion)

	assert.Equal(t, 10*time.Second, cfg.Lock.Expiry)
	assert.Equal(t, "ingested_exposure_data", cfg.Analytics.QueueKey)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("MAX_KEYS_PER_UPLOAD", "14")
	t.Setenv("ALLOW_NON_CONSECUTIVE_TEKS", "false")
	t.Setenv("BATCH_PERIODICITY_CRONTAB", "0 */2 * * *")
	t.Setenv("LOCK_EXPIRY", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 14, cfg.Validation.MaxKeysPerUpload)
	assert.False(t, cfg.Validation.AllowNonConsecutiveTeks)
	assert.Equal(t, "0 */2 * * *", cfg.Batch.PeriodicityCrontab)
	assert.Equal(t, time.Minute, cfg.Lock.Expiry)
}

func TestLoadRejectsInvalidCrontab(t *testing.T) {
	t.Setenv("DELETE_OLD_DATA_CRONTAB", "not a crontab")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DELETE_OLD_DATA_CRONTAB")
}

func TestLoadRejectsOversizedHeader(t *testing.T) {
	t.Setenv("EXPORT_BIN_HEADER", "this header is way too long")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPORT_BIN_HEADER")
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "immuni",
		Password: "secret",
		Database: "exposure",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=immuni password=secret dbname=exposure sslmode=disable",
		c.DSN())
}
