package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CURTAINCALL"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvDBDSN  = "CURTAINCALL_DB_DSN"
	EnvDBHost = "CURTAINCALL_DB_HOST"
	EnvDBUser = "CURTAINCALL_DB_USER"
	EnvDBName = "CURTAINCALL_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Assets       AssetsConfig
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
	Env          string `envconfig:"CURTAINCALL_APP_ENV" required:"true"`
	Port         string `envconfig:"CURTAINCALL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CURTAINCALL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CURTAINCALL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CURTAINCALL_DB_DSN"`
	Driver string `envconfig:"CURTAINCALL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CURTAINCALL_DB_HOST"`
	LegacyPort     int    `envconfig:"CURTAINCALL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CURTAINCALL_DB_USER"`
	LegacyPassword string `envconfig:"CURTAINCALL_DB_PASSWORD"`
	LegacyName     string `envconfig:"CURTAINCALL_DB_NAME"`
	LegacySSLMode  string `envconfig:"CURTAINCALL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CURTAINCALL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CURTAINCALL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CURTAINCALL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CURTAINCALL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CURTAINCALL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CURTAINCALL_REDIS_ADDR"`
	Password     string        `envconfig:"CURTAINCALL_REDIS_PASSWORD"`
	DB           int           `envconfig:"CURTAINCALL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CURTAINCALL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CURTAINCALL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CURTAINCALL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CURTAINCALL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CURTAINCALL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CURTAINCALL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CURTAINCALL_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CURTAINCALL_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CURTAINCALL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CURTAINCALL_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"CURTAINCALL_GCS_BUCKET_NAME" required:"true"`
}

// AssetsConfig tunes the scannable-asset generation pipeline.
type AssetsConfig struct {
	PublicBaseURL    string        `envconfig:"CURTAINCALL_ASSET_PUBLIC_BASE_URL" required:"true"`
	LocalRoot        string        `envconfig:"CURTAINCALL_ASSET_LOCAL_ROOT" default:"./assets"`
	BatchWorkers     int           `envconfig:"CURTAINCALL_ASSET_BATCH_WORKERS" default:"4"`
	QRSizePixels     int           `envconfig:"CURTAINCALL_ASSET_QR_SIZE" default:"512"`
	LogoFetchTimeout time.Duration `envconfig:"CURTAINCALL_ASSET_LOGO_FETCH_TIMEOUT" default:"5s"`
	SummaryCacheTTL  time.Duration `envconfig:"CURTAINCALL_ASSET_SUMMARY_CACHE_TTL" default:"60s"`
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
