package config

const (
	EnvPrefix = "LENDING"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DefaultSQLiteDSN = "file:lending.db?_busy_timeout=5000&_foreign_keys=on"

	EnvAppEnv           = "LENDING_APP_ENV"
	EnvPort             = "LENDING_APP_PORT"
	EnvDBDSN            = "LENDING_DB_DSN"
	EnvDBHost           = "LENDING_DB_HOST"
	EnvDBUser           = "LENDING_DB_USER"
	EnvDBName           = "LENDING_DB_NAME"
	EnvRedisURL         = "LENDING_REDIS_URL"
	EnvUseSQLite        = "LENDING_USE_SQLITE"
	EnvMaxActiveBorrows = "LENDING_MAX_ACTIVE_BORROWS"
	EnvGCPProjectID     = "LENDING_GCP_PROJECT_ID"
	EnvLendingTopic     = "LENDING_PUBSUB_LENDING_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
