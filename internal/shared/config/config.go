package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server     ServerConfig     `env:", prefix=SERVER_"`
	Database   DatabaseConfig   `env:", prefix=DB_"`
	JWT        JWTConfig        `env:", prefix=JWT_"`
	Encryption EncryptionConfig `env:", prefix=ENCRYPTION_"`
	Scheduler  SchedulerConfig  `env:", prefix=SCHEDULER_"`
	Providers  ProvidersConfig  `env:", prefix=PROVIDERS_"`
	Firebase   FirebaseConfig   `env:", prefix=FIREBASE_"`
	Telemetry  TelemetryConfig  `env:", prefix=OTEL_"`
	Logging    LoggingConfig    `env:", prefix=LOG_"`
	Listener   ListenerConfig   `env:", prefix=LISTENER_"`
}

type ServerConfig struct {
	Host            string        `env:"HOST, default=0.0.0.0"`
	Port            int           `env:"PORT, default=8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT, default=150s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS"`
}

type DatabaseConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=5432"`
	User            string        `env:"USER, default=bankfeed"`
	Password        string        `env:"PASSWORD"`
	Name            string        `env:"NAME, default=bankfeed"`
	SSLMode         string        `env:"SSLMODE, default=disable"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

type JWTConfig struct {
	Secret string `env:"SECRET"`
	Issuer string `env:"ISSUER"`
}

// EncryptionConfig holds the credential keyring, ENCRYPTION_KEYS=kid:secret,kid2:secret.
type EncryptionConfig struct {
	Keys      map[string]string `env:"KEYS"`
	ActiveKID string            `env:"ACTIVE_KID"`
}

type SchedulerConfig struct {
	Enabled         bool          `env:"ENABLED, default=true"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL, default=1m"`
	SweepLimit      int           `env:"SWEEP_LIMIT, default=20"`
	TenantID        int64         `env:"TENANT_ID, default=0"`
	WorkerCount     int           `env:"WORKERS, default=4"`
	QueueSize       int           `env:"QUEUE_SIZE, default=100"`
	JobTimeout      time.Duration `env:"JOB_TIMEOUT, default=5m"`
	RunOnStartup    bool          `env:"RUN_ON_STARTUP, default=false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s"`
}

type ProvidersConfig struct {
	LimitsFile string `env:"LIMITS_FILE"`
}

type FirebaseConfig struct {
	CredentialsFile   string `env:"CREDENTIALS_FILE"`
	AlertsTopicPrefix string `env:"ALERTS_TOPIC_PREFIX, default=bank-connectors"`
}

type TelemetryConfig struct {
	Enabled      bool   `env:"ENABLED, default=false"`
	ServiceName  string `env:"SERVICE_NAME, default=bankfeed-api"`
	Environment  string `env:"ENVIRONMENT, default=development"`
	OTLPEndpoint string `env:"EXPORTER_ENDPOINT, default=localhost:4317"`
	MetricsPort  int    `env:"METRICS_PORT, default=9090"`
}

type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
}

type ListenerConfig struct {
	Enabled bool `env:"ENABLED, default=true"`
}

const (
	minSecretLength = 32
	maxSweepLimit   = 100
)

// Load reads configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration through lookuper and validates it.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	if len(c.Encryption.Keys) == 0 {
		errs = append(errs, errors.New("ENCRYPTION_KEYS is required"))
	}
	for kid, secret := range c.Encryption.Keys {
		if len(secret) < minSecretLength {
			errs = append(errs, fmt.Errorf("ENCRYPTION_KEYS: secret for %q must be at least %d bytes", kid, minSecretLength))
		}
	}
	if c.Encryption.ActiveKID == "" && len(c.Encryption.Keys) > 1 {
		errs = append(errs, errors.New("ENCRYPTION_ACTIVE_KID is required when more than one key is configured"))
	}
	if c.Encryption.ActiveKID != "" {
		if _, ok := c.Encryption.Keys[c.Encryption.ActiveKID]; !ok {
			errs = append(errs, fmt.Errorf("ENCRYPTION_ACTIVE_KID %q is not in ENCRYPTION_KEYS", c.Encryption.ActiveKID))
		}
	}

	if c.Scheduler.SweepInterval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_SWEEP_INTERVAL must be positive"))
	}
	if c.Scheduler.SweepLimit < 1 || c.Scheduler.SweepLimit > maxSweepLimit {
		errs = append(errs, fmt.Errorf("SCHEDULER_SWEEP_LIMIT must be between 1 and %d", maxSweepLimit))
	}
	if c.Scheduler.WorkerCount < 1 {
		errs = append(errs, errors.New("SCHEDULER_WORKERS must be at least 1"))
	}
	if c.Scheduler.QueueSize < 1 {
		errs = append(errs, errors.New("SCHEDULER_QUEUE_SIZE must be at least 1"))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SchedulerTenant returns the tenant filter for sweeps, nil for all tenants.
func (c *SchedulerConfig) SchedulerTenant() *int64 {
	if c.TenantID <= 0 {
		return nil
	}
	id := c.TenantID
	return &id
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr is the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
