package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is the envconfig prefix shared by every binary.
	EnvPrefix = "zawadi"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "ZAWADI_DB_DSN"
	EnvDBHost = "ZAWADI_DB_HOST"
	EnvDBUser = "ZAWADI_DB_USER"
	EnvDBName = "ZAWADI_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
	Pesapal      PesapalConfig
	Recon        ReconConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"ZAWADI_APP_ENV" required:"true"`
	Port         string `envconfig:"ZAWADI_APP_PORT" required:"true"`
	BaseURL      string `envconfig:"ZAWADI_APP_BASE_URL" default:"http://localhost:8080"`
	ResultURL    string `envconfig:"ZAWADI_APP_RESULT_URL" default:"http://localhost:3000/payment/result"`
	LogLevel     string `envconfig:"ZAWADI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ZAWADI_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind       string `envconfig:"ZAWADI_SERVICE_KIND" default:"api"`
	AdminToken string `envconfig:"ZAWADI_ADMIN_TOKEN"`
}

type DBConfig struct {
	DSN    string `envconfig:"ZAWADI_DB_DSN"`
	Driver string `envconfig:"ZAWADI_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ZAWADI_DB_HOST"`
	LegacyPort     int    `envconfig:"ZAWADI_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ZAWADI_DB_USER"`
	LegacyPassword string `envconfig:"ZAWADI_DB_PASSWORD"`
	LegacyName     string `envconfig:"ZAWADI_DB_NAME"`
	LegacySSLMode  string `envconfig:"ZAWADI_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ZAWADI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ZAWADI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ZAWADI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ZAWADI_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ZAWADI_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ZAWADI_REDIS_ADDR"`
	Password     string        `envconfig:"ZAWADI_REDIS_PASSWORD"`
	DB           int           `envconfig:"ZAWADI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ZAWADI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ZAWADI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ZAWADI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ZAWADI_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ZAWADI_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ZAWADI_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ZAWADI_JWT_ISSUER" default:"zawadi"`
	ExpirationMinutes int    `envconfig:"ZAWADI_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the session token TTL.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ZAWADI_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ZAWADI_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ZAWADI_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ZAWADI_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ZAWADI_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	UseSQLite             bool `envconfig:"ZAWADI_USE_SQLITE" default:"false"`
	AutoMigrate           bool `envconfig:"ZAWADI_AUTO_MIGRATE" default:"false"`
	InlineAccountCreation bool `envconfig:"ZAWADI_FEATURE_INLINE_ACCOUNT_CREATION" default:"true"`
}

// PesapalConfig carries the API v3 credentials and endpoints.
type PesapalConfig struct {
	ConsumerKey    string        `envconfig:"ZAWADI_PESAPAL_CONSUMER_KEY" required:"true"`
	ConsumerSecret string        `envconfig:"ZAWADI_PESAPAL_CONSUMER_SECRET" required:"true"`
	Env            string        `envconfig:"ZAWADI_PESAPAL_ENV" default:"sandbox"`
	IPNID          string        `envconfig:"ZAWADI_PESAPAL_IPN_ID"`
	CallbackURL    string        `envconfig:"ZAWADI_PESAPAL_CALLBACK_URL" required:"true"`
	RequestTimeout time.Duration `envconfig:"ZAWADI_PESAPAL_REQUEST_TIMEOUT" default:"8s"`
	TokenTTL       time.Duration `envconfig:"ZAWADI_PESAPAL_TOKEN_TTL" default:"4m"`
}

// Environment returns the normalized Pesapal environment (sandbox/production).
func (p PesapalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// ReconConfig bounds the polling sweep.
type ReconConfig struct {
	Interval    time.Duration `envconfig:"ZAWADI_RECON_INTERVAL" default:"5m"`
	OlderThan   time.Duration `envconfig:"ZAWADI_RECON_OLDER_THAN" default:"10m"`
	YoungerThan time.Duration `envconfig:"ZAWADI_RECON_YOUNGER_THAN" default:"72h"`
	BatchSize   int           `envconfig:"ZAWADI_RECON_BATCH_SIZE" default:"100"`
	LockTTL     time.Duration `envconfig:"ZAWADI_RECON_LOCK_TTL" default:"15m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ZAWADI_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ZAWADI_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ZAWADI_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentEventsTopic        string `envconfig:"ZAWADI_PUBSUB_PAYMENT_EVENTS_TOPIC" default:"zw-payment-events"`
	PaymentEventsSubscription string `envconfig:"ZAWADI_PUBSUB_PAYMENT_EVENTS_SUBSCRIPTION"`
	MailTopic                 string `envconfig:"ZAWADI_PUBSUB_MAIL_TOPIC" default:"zw-mail-jobs"`
	MailSubscription          string `envconfig:"ZAWADI_PUBSUB_MAIL_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"ZAWADI_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"ZAWADI_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"ZAWADI_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"ZAWADI_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
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
