package config

// EnvPrefix is handed to envconfig; every field carries an explicit key so the
// prefix only matters for fields added without one.
const EnvPrefix = "FOODOPS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "FOODOPS_APP_ENV"
	EnvPort     = "FOODOPS_APP_PORT"
	EnvLogLevel = "FOODOPS_LOG_LEVEL"

	EnvDBDSN  = "FOODOPS_DB_DSN"
	EnvDBHost = "FOODOPS_DB_HOST"
	EnvDBUser = "FOODOPS_DB_USER"
	EnvDBName = "FOODOPS_DB_NAME"

	EnvRedisURL = "FOODOPS_REDIS_URL"

	EnvJWTSecret = "FOODOPS_JWT_SECRET"

	EnvLockDefaultTTL = "FOODOPS_LOCK_DEFAULT_TTL"
	EnvLockMaxTTL     = "FOODOPS_LOCK_MAX_TTL"

	EnvPaymentsWebhookSecret = "FOODOPS_PAYMENTS_WEBHOOK_SECRET"
	EnvNotificationsBucket   = "FOODOPS_NOTIFICATIONS_DEDUPE_BUCKET"
	EnvGCPProjectID          = "FOODOPS_GCP_PROJECT_ID"
	EnvPubSubNotifyTopic     = "FOODOPS_PUBSUB_NOTIFICATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
