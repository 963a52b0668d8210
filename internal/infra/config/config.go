package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env           string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"memory"`

	MongoURI    string `envconfig:"MONGO_URI"`
	MongoDB     string `envconfig:"MONGO_DB" default:"venuebook"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	RedisURL      string        `envconfig:"REDIS_URL"`
	PlaceCacheTTL time.Duration `envconfig:"PLACE_CACHE_TTL" default:"5m"`

	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopicPrefix string   `envconfig:"KAFKA_TOPIC_PREFIX"`

	OutboxPollInterval time.Duration   `envconfig:"OUTBOX_POLL_INTERVAL" default:"500ms"`
	RetryBackoff       []time.Duration `envconfig:"RETRY_BACKOFF" default:"1s,5s,30s"`
	IdempotencyTTL     time.Duration   `envconfig:"IDEMP_TTL" default:"168h"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"venuebook-callbacks"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	ServiceFeeBPS     int64  `envconfig:"SERVICE_FEE_BPS" default:"500"`
	ProtectionPlanFee int64  `envconfig:"PROTECTION_PLAN_FEE" default:"300000"`
	Currency          string `envconfig:"CURRENCY" default:"UZS"`

	PaymeMerchantKey string `envconfig:"PAYME_MERCHANT_KEY"`
	PaymeLogin       string `envconfig:"PAYME_LOGIN" default:"Paycom"`
	ClickServiceID   string `envconfig:"CLICK_SERVICE_ID"`
	ClickSecretKey   string `envconfig:"CLICK_SECRET_KEY"`

	SweeperEnabled         bool          `envconfig:"SWEEPER_ENABLED" default:"true"`
	SweeperInterval        time.Duration `envconfig:"SWEEPER_INTERVAL" default:"5m"`
	SelectionPaymentWindow time.Duration `envconfig:"SELECTION_PAYMENT_WINDOW" default:"24h"`

	PlacesFixtures string `envconfig:"PLACES_FIXTURES" default:"data/places.json"`
}

// Load reads an optional .env file (or the given files) and then parses the
// environment. Variables already set in the process win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values each storage driver depends on.
func (c Config) Validate() error {
	var missing []string
	switch c.StorageDriver {
	case DriverMemory:
	case DriverMongo:
		if c.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			missing = append(missing, "POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("%w: unknown STORAGE_DRIVER %q", ErrInvalidConfig, c.StorageDriver)
	}
	if c.StorageDriver != DriverMemory && len(c.KafkaBrokers) == 0 {
		missing = append(missing, "KAFKA_BROKERS")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if c.ServiceFeeBPS < 0 || c.ServiceFeeBPS > 10000 {
		return fmt.Errorf("%w: SERVICE_FEE_BPS must be within 0..10000", ErrInvalidConfig)
	}
	if c.ProtectionPlanFee < 0 {
		return fmt.Errorf("%w: PROTECTION_PLAN_FEE must not be negative", ErrInvalidConfig)
	}
	if c.SweeperEnabled && (c.SweeperInterval <= 0 || c.SelectionPaymentWindow <= 0) {
		return fmt.Errorf("%w: SWEEPER_INTERVAL and SELECTION_PAYMENT_WINDOW must be positive", ErrInvalidConfig)
	}
	return nil
}

// PaymeEnabled reports whether the Payme callback endpoint can authenticate requests.
func (c Config) PaymeEnabled() bool { return c.PaymeMerchantKey != "" }

// ClickEnabled reports whether Click callbacks can be signature-checked.
func (c Config) ClickEnabled() bool { return c.ClickServiceID != "" && c.ClickSecretKey != "" }

// ArchiveEnabled reports whether callback payloads should be archived to object storage.
func (c Config) ArchiveEnabled() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}
