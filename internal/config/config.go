// Package config loads the service configuration from environment
// variables. Every knob has a default so the service runs out of the box
// against a local Postgres and Redis; validation catches the values that
// would only fail much later (crontabs, the export header).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/schedule"
)

// ExportBinHeaderLength is the fixed size of the header that prefixes the
// key export payload. Shorter headers are padded with spaces.
const ExportBinHeaderLength = 16

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config is the full configuration of the exposure-ingestion service.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// Validation bounds the uploads the intake accepts.
	Validation struct {
		MaxKeysPerUpload                      int
		AllowNonConsecutiveTeks               bool
		ExcludeCurrentDayTek                  bool
		DaysBeforeSymptomsToConsiderKeyAtRisk int
	}

	// Batch controls the periodic aggregation of uploads into export files.
	Batch struct {
		MaxKeysPerBatch      int
		PeriodicityCrontab   string
		EuPeriodicityCrontab string
	}

	// Retention controls the cleanup of expired uploads and batches.
	Retention struct {
		Days    int
		Crontab string
	}

	// Export identifies the produced files to the mobile clients.
	Export struct {
		Region                 string
		BinHeader              string
		AppBundleID            string
		VerificationKeyID      string
		VerificationKeyVersion string
		SignatureKeyAliasName  string
	}

	// Signature configures the external signing service (mTLS).
	Signature struct {
		ExternalURL         string
		SendPrecomputedHash bool
		TLSCertFile         string
		TLSKeyFile          string
		CAFile              string
		Timeout             time.Duration
	}

	// Lock guards each periodic job against concurrent runs.
	Lock struct {
		Expiry time.Duration
	}

	// Analytics is the Redis queue fed with ingested upload summaries.
	Analytics struct {
		QueueKey string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "immuni")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Validation.MaxKeysPerUpload = getEnvInt("MAX_KEYS_PER_UPLOAD", 30)
	cfg.Validation.AllowNonConsecutiveTeks = getEnvBool("ALLOW_NON_CONSECUTIVE_TEKS", true)
	cfg.Validation.ExcludeCurrentDayTek = getEnvBool("EXCLUDE_CURRENT_DAY_TEK", true)
	cfg.Validation.DaysBeforeSymptomsToConsiderKeyAtRisk = getEnvInt("DAYS_BEFORE_SYMPTOMS_TO_CONSIDER_KEY_AT_RISK", 2)

	cfg.Batch.MaxKeysPerBatch = getEnvInt("MAX_KEYS_PER_BATCH", 10000)
	cfg.Batch.PeriodicityCrontab = getEnv("BATCH_PERIODICITY_CRONTAB", "0 0 * * *")
	cfg.Batch.EuPeriodicityCrontab = getEnv("BATCH_EU_PERIODICITY_CRONTAB", "0 0 * * *")

	cfg.Retention.Days = getEnvInt("DATA_RETENTION_DAYS", 14)
	cfg.Retention.Crontab = getEnv("DELETE_OLD_DATA_CRONTAB", "0 0 * * *")

	cfg.Export.Region = getEnv("REGION", "222")
	cfg.Export.BinHeader = getEnv("EXPORT_BIN_HEADER", "EK Export v1")
	cfg.Export.AppBundleID = getEnv("APP_BUNDLE_ID", "it.ministerodellasalute.immuni")
	cfg.Export.VerificationKeyID = getEnv("VERIFICATION_KEY_ID", "222")
	cfg.Export.VerificationKeyVersion = getEnv("VERIFICATION_KEY_VERSION", "v1")
	cfg.Export.SignatureKeyAliasName = getEnv("SIGNATURE_KEY_ALIAS_NAME", "")

	cfg.Signature.ExternalURL = getEnv("SIGNATURE_EXTERNAL_URL", "")
	cfg.Signature.SendPrecomputedHash = getEnvBool("SIGNATURE_EXTERNAL_SEND_PRECOMPUTED_HASH", false)
	cfg.Signature.TLSCertFile = getEnv("SIGNATURE_TLS_CERT_FILE", "")
	cfg.Signature.TLSKeyFile = getEnv("SIGNATURE_TLS_KEY_FILE", "")
	cfg.Signature.CAFile = getEnv("SIGNATURE_CA_FILE", "")
	cfg.Signature.Timeout = getEnvDuration("SIGNATURE_TIMEOUT", 30*time.Second)

	cfg.Lock.Expiry = getEnvDuration("LOCK_EXPIRY", 10*time.Second)

	cfg.Analytics.QueueKey = getEnv("ANALYTICS_QUEUE_KEY", "ingested_exposure_data")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, expr := range map[string]string{
		"BATCH_PERIODICITY_CRONTAB":    c.Batch.PeriodicityCrontab,
		"BATCH_EU_PERIODICITY_CRONTAB": c.Batch.EuPeriodicityCrontab,
		"DELETE_OLD_DATA_CRONTAB":      c.Retention.Crontab,
	} {
		if err := schedule.Validate(expr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if len(c.Export.BinHeader) > ExportBinHeaderLength {
		return fmt.Errorf("EXPORT_BIN_HEADER exceeds %d bytes: %q", ExportBinHeaderLength, c.Export.BinHeader)
	}
	if c.Validation.MaxKeysPerUpload <= 0 {
		return fmt.Errorf("MAX_KEYS_PER_UPLOAD must be positive, got %d", c.Validation.MaxKeysPerUpload)
	}
	if c.Batch.MaxKeysPerBatch <= 0 {
		return fmt.Errorf("MAX_KEYS_PER_BATCH must be positive, got %d", c.Batch.MaxKeysPerBatch)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("DATA_RETENTION_DAYS must be positive, got %d", c.Retention.Days)
	}
	if c.Lock.Expiry <= 0 {
		return fmt.Errorf("LOCK_EXPIRY must be positive, got %s", c.Lock.Expiry)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
