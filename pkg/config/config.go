package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	HTTP          HTTPConfig
	FeatureFlags  FeatureFlagsConfig
	Locks         LocksConfig
	Payments      PaymentsConfig
	Notifications NotificationsConfig
	Cron          CronConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Locks.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FOODOPS_APP_ENV" required:"true"`
	Port         string `envconfig:"FOODOPS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FOODOPS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FOODOPS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FOODOPS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FOODOPS_DB_DSN"`
	Driver string `envconfig:"FOODOPS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FOODOPS_DB_HOST"`
	LegacyPort     int    `envconfig:"FOODOPS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FOODOPS_DB_USER"`
	LegacyPassword string `envconfig:"FOODOPS_DB_PASSWORD"`
	LegacyName     string `envconfig:"FOODOPS_DB_NAME"`
	LegacySSLMode  string `envconfig:"FOODOPS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FOODOPS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FOODOPS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FOODOPS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FOODOPS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// TxMaxAttempts bounds WithTx reruns after serialization failures or deadlocks.
	TxMaxAttempts int `envconfig:"FOODOPS_DB_TX_MAX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FOODOPS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FOODOPS_REDIS_ADDR"`
	Password     string        `envconfig:"FOODOPS_REDIS_PASSWORD"`
	DB           int           `envconfig:"FOODOPS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FOODOPS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FOODOPS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FOODOPS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FOODOPS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FOODOPS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FOODOPS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FOODOPS_JWT_ISSUER" default:"foodops"`
	ExpirationMinutes int    `envconfig:"FOODOPS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type HTTPConfig struct {
	CORSAllowedOrigins []string      `envconfig:"FOODOPS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LockRateLimit      int           `envconfig:"FOODOPS_LOCK_RATE_LIMIT" default:"60"`
	LockRateWindow     time.Duration `envconfig:"FOODOPS_LOCK_RATE_WINDOW" default:"1m"`
	ShutdownTimeout    time.Duration `envconfig:"FOODOPS_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FOODOPS_AUTO_MIGRATE" default:"false"`
}

// LocksConfig bounds the advisory order edit locks.
type LocksConfig struct {
	DefaultTTL time.Duration `envconfig:"FOODOPS_LOCK_DEFAULT_TTL" default:"30s"`
	MaxTTL     time.Duration `envconfig:"FOODOPS_LOCK_MAX_TTL" default:"5m"`
}

func (l LocksConfig) validate() error {
	if l.DefaultTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvLockDefaultTTL)
	}
	if l.MaxTTL < l.DefaultTTL {
		return fmt.Errorf("%s must be >= %s", EnvLockMaxTTL, EnvLockDefaultTTL)
	}
	return nil
}

type PaymentsConfig struct {
	WebhookSecret         string        `envconfig:"FOODOPS_PAYMENTS_WEBHOOK_SECRET"`
	WebhookIdempotencyTTL time.Duration `envconfig:"FOODOPS_PAYMENTS_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	ReconcileBatchSize    int           `envconfig:"FOODOPS_PAYMENTS_RECONCILE_BATCH_SIZE" default:"100"`
}

type NotificationsConfig struct {
	WebhookSecret     string        `envconfig:"FOODOPS_NOTIFICATIONS_WEBHOOK_SECRET"`
	DedupeBucket      time.Duration `envconfig:"FOODOPS_NOTIFICATIONS_DEDUPE_BUCKET" default:"1m"`
	MaxRetries        int           `envconfig:"FOODOPS_NOTIFICATIONS_MAX_RETRIES" default:"5"`
	ProcessingTimeout time.Duration `envconfig:"FOODOPS_NOTIFICATIONS_PROCESSING_TIMEOUT" default:"5m"`
	RetentionDays     int           `envconfig:"FOODOPS_NOTIFICATIONS_RETENTION_DAYS" default:"30"`
	BatchSize         int           `envconfig:"FOODOPS_NOTIFICATIONS_DISPATCH_BATCH_SIZE" default:"50"`
	PollIntervalMS    int           `envconfig:"FOODOPS_NOTIFICATIONS_DISPATCH_POLL_MS" default:"500"`
}

// CronConfig drives the sweep scheduler. Lock and notification reclaim sweeps
// run every tick; the slower sweeps have their own cadence.
type CronConfig struct {
	Interval       time.Duration `envconfig:"FOODOPS_CRON_INTERVAL" default:"1m"`
	LockTTL        time.Duration `envconfig:"FOODOPS_CRON_LOCK_TTL" default:"5m"`
	JobTimeout     time.Duration `envconfig:"FOODOPS_CRON_JOB_TIMEOUT" default:"2m"`
	ReconcileEvery time.Duration `envconfig:"FOODOPS_CRON_RECONCILE_EVERY" default:"5m"`
	ArchiveEvery   time.Duration `envconfig:"FOODOPS_CRON_ARCHIVE_EVERY" default:"24h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FOODOPS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic   string `envconfig:"FOODOPS_PUBSUB_NOTIFICATION_TOPIC" default:"foodops-notifications"`
	ReceiptSubscription string `envconfig:"FOODOPS_PUBSUB_RECEIPT_SUBSCRIPTION" default:"foodops-delivery-receipts"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
