package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// EnvPrefix is applied by envconfig when resolving variables.
const EnvPrefix = "circulation"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "CIRCULATION_DB_DSN"
	EnvDBHost = "CIRCULATION_DB_HOST"
	EnvDBUser = "CIRCULATION_DB_USER"
	EnvDBName = "CIRCULATION_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	ODL          ODLConfig
	Boundless    BoundlessConfig
	Lending      LendingConfig
	Sweeps       SweepConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CIRCULATION_APP_ENV" required:"true"`
	Port         string `envconfig:"CIRCULATION_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CIRCULATION_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CIRCULATION_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CIRCULATION_DB_DSN"`
	Driver string `envconfig:"CIRCULATION_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CIRCULATION_DB_HOST"`
	LegacyPort     int    `envconfig:"CIRCULATION_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CIRCULATION_DB_USER"`
	LegacyPassword string `envconfig:"CIRCULATION_DB_PASSWORD"`
	LegacyName     string `envconfig:"CIRCULATION_DB_NAME"`
	LegacySSLMode  string `envconfig:"CIRCULATION_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CIRCULATION_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CIRCULATION_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CIRCULATION_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CIRCULATION_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CIRCULATION_REDIS_URL"`
	Address      string        `envconfig:"CIRCULATION_REDIS_ADDR"`
	Password     string        `envconfig:"CIRCULATION_REDIS_PASSWORD"`
	DB           int           `envconfig:"CIRCULATION_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CIRCULATION_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CIRCULATION_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CIRCULATION_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CIRCULATION_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CIRCULATION_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CIRCULATION_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CIRCULATION_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CIRCULATION_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CIRCULATION_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CIRCULATION_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CirculationEventsTopic string `envconfig:"CIRCULATION_PUBSUB_EVENTS_TOPIC" default:"circulation-events"`
}

// ODLConfig carries credentials for talking to an ODL distributor's loan
// status document endpoints.
type ODLConfig struct {
	Username           string        `envconfig:"CIRCULATION_ODL_USERNAME"`
	Password           string        `envconfig:"CIRCULATION_ODL_PASSWORD"`
	NotificationURL    string        `envconfig:"CIRCULATION_ODL_NOTIFICATION_URL"`
	NotificationSecret string        `envconfig:"CIRCULATION_ODL_NOTIFICATION_SECRET"`
	RequestTimeout     time.Duration `envconfig:"CIRCULATION_ODL_REQUEST_TIMEOUT" default:"20s"`
	DefaultLoanPeriod  time.Duration `envconfig:"CIRCULATION_ODL_DEFAULT_LOAN_PERIOD" default:"504h"`
}

// BoundlessConfig carries credentials for the Boundless vendor API.
type BoundlessConfig struct {
	BaseURL        string        `envconfig:"CIRCULATION_BOUNDLESS_BASE_URL"`
	APIKey         string        `envconfig:"CIRCULATION_BOUNDLESS_API_KEY"`
	LibraryID      string        `envconfig:"CIRCULATION_BOUNDLESS_LIBRARY_ID"`
	RequestTimeout time.Duration `envconfig:"CIRCULATION_BOUNDLESS_REQUEST_TIMEOUT" default:"20s"`
}

// LendingConfig holds library-wide lending policy defaults. Per-library rows
// override these when set.
type LendingConfig struct {
	DefaultLoanLimit    int             `envconfig:"CIRCULATION_DEFAULT_LOAN_LIMIT" default:"0"`
	DefaultHoldLimit    int             `envconfig:"CIRCULATION_DEFAULT_HOLD_LIMIT" default:"0"`
	MaxOutstandingFines decimal.Decimal `envconfig:"CIRCULATION_MAX_OUTSTANDING_FINES" default:"0"`
	HoldPickupWindow    time.Duration   `envconfig:"CIRCULATION_HOLD_PICKUP_WINDOW" default:"72h"`
}

type SweepConfig struct {
	Interval  time.Duration `envconfig:"CIRCULATION_SWEEP_INTERVAL" default:"1h"`
	BatchSize int           `envconfig:"CIRCULATION_SWEEP_BATCH_SIZE" default:"50"`
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
