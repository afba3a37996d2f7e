package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Lending      LendingConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if cfg.Lending.MaxActiveBorrows <= 0 {
		return nil, fmt.Errorf("%s must be positive", EnvMaxActiveBorrows)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LENDING_APP_ENV" required:"true"`
	Port         string `envconfig:"LENDING_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LENDING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LENDING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LENDING_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LENDING_DB_DSN"`
	Driver string `envconfig:"LENDING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LENDING_DB_HOST"`
	LegacyPort     int    `envconfig:"LENDING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LENDING_DB_USER"`
	LegacyPassword string `envconfig:"LENDING_DB_PASSWORD"`
	LegacyName     string `envconfig:"LENDING_DB_NAME"`
	LegacySSLMode  string `envconfig:"LENDING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LENDING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LENDING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LENDING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LENDING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver targets SQLite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"LENDING_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LENDING_REDIS_ADDR"`
	Password     string        `envconfig:"LENDING_REDIS_PASSWORD"`
	DB           int           `envconfig:"LENDING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LENDING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LENDING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LENDING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LENDING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LENDING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// LendingConfig holds the business limits threaded into the lending engine.
type LendingConfig struct {
	MaxActiveBorrows int           `envconfig:"LENDING_MAX_ACTIVE_BORROWS" default:"5"`
	ConflictRetries  int           `envconfig:"LENDING_CONFLICT_RETRIES" default:"1"`
	LockWaitTimeout  time.Duration `envconfig:"LENDING_LOCK_WAIT_TIMEOUT" default:"2s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LENDING_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LENDING_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LENDING_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	LendingTopic string `envconfig:"LENDING_PUBSUB_LENDING_TOPIC" default:"lending-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LENDING_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LENDING_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LENDING_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"LENDING_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"LENDING_CRON_INTERVAL" default:"1h"`
	AuditRepair bool          `envconfig:"LENDING_CRON_AUDIT_REPAIR" default:"false"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = DefaultSQLiteDSN
		}
		return nil
	}
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
