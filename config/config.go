package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/vault"
	"github.com/urfave/cli/v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	DBBackend   string
	DBPath      string
	DatabaseURL string
	Host        string
	Port        int64
	Debug       bool
	SSL         bool

	CredentialSecret string
	DispatchSecret   string
	// RootCredentials is "email:password" of an admin created at startup.
	RootCredentials  string

	DispatchInterval  time.Duration
	DispatchBatchSize int64
	RemoteTimeout     time.Duration
	BatchTimeout      time.Duration
	ArchiveRetention  time.Duration
	StaleClaimAfter   time.Duration
	SessionTTL        time.Duration
	RateLimitRPM      int64
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Sources: cli.EnvVars("APP_ENV"),
			Name:    "env",
			Value:   EnvProduction,
			Usage:   "runtime environment (development|production)",
		},
		&cli.StringFlag{
			Sources: cli.EnvVars("DB_BACKEND"),
			Name:    "db-backend",
			Aliases: []string{"db"},
			Value:   "sqlite",
			Usage:   "database driver to use (sqlite|postgres)",
		},
		&cli.StringFlag{
			Sources: cli.EnvVars("DB_PATH"),
			Name:    "db-path",
			Aliases: []string{"dp"},
			Value:   "data.db",
			Usage:   "For sqlite the path to the database file",
		},
		&cli.StringFlag{
			Sources: cli.EnvVars("DATABASE_URL"),
			Name:    "database-url",
			Usage:   "For postgres the connection string",
		},
		&cli.BoolFlag{
			Sources: cli.EnvVars("DEBUG"),
			Name:    "debug",
			Aliases: []string{"d"},
			Value:   false,
			Usage:   "enable debug mode",
		},
		&cli.StringFlag{
			Sources: cli.EnvVars("HOST"),
			Name:    "host",
			Aliases: []string{"b"},
			Value:   "127.0.0.1",
			Usage:   "server bind address",
		},
		&cli.BoolFlag{
			Sources: cli.EnvVars("SSL"),
			Name:    "ssl",
			Aliases: []string{"s"},
			Value:   false,
			Usage:   "server is reachable through https",
		},
		&cli.IntFlag{
			Sources: cli.EnvVars("PORT"),
			Name:    "port",
			Aliases: []string{"p"},
			Value:   1984,
			Usage:   "server port",
		},
		&cli.StringFlag{
			Sources: cli.EnvVars("CREDENTIAL_SECRET"),
			Name:    "credential-secret",
			Usage:   "secret the workspace password encryption key is derived from",
		},
		&cli.StringFlag{
			Sources: cli.EnvVars("DISPATCH_SECRET"),
			Name:    "dispatch-secret",
			Usage:   "bearer secret required to trigger dispatch over http; empty disables the endpoint",
		},
		&cli.StringFlag{
			Sources: cli.EnvVars("ROOT_CREDENTIALS"),
			Name:    "root-credentials",
			Usage:   "email:password of the admin user created on startup if missing",
		},
		&cli.DurationFlag{
			Sources: cli.EnvVars("DISPATCH_INTERVAL"),
			Name:    "dispatch-interval",
			Value:   time.Minute,
			Usage:   "how often the scheduler runs a dispatch tick",
		},
		&cli.IntFlag{
			Sources: cli.EnvVars("DISPATCH_BATCH_SIZE"),
			Name:    "dispatch-batch-size",
			Value:   100,
			Usage:   "maximum number of due messages processed per tick",
		},
		&cli.DurationFlag{
			Sources: cli.EnvVars("REMOTE_TIMEOUT"),
			Name:    "remote-timeout",
			Value:   15 * time.Second,
			Usage:   "timeout for a single call to a remote workspace",
		},
		&cli.DurationFlag{
			Sources: cli.EnvVars("BATCH_TIMEOUT"),
			Name:    "batch-timeout",
			Value:   5 * time.Minute,
			Usage:   "overall budget for one dispatch tick",
		},
		&cli.DurationFlag{
			Sources: cli.EnvVars("ARCHIVE_RETENTION"),
			Name:    "archive-retention",
			Value:   30 * 24 * time.Hour,
			Usage:   "how long archived connections are kept before deletion",
		},
		&cli.DurationFlag{
			Sources: cli.EnvVars("STALE_CLAIM_AFTER"),
			Name:    "stale-claim-after",
			Value:   10 * time.Minute,
			Usage:   "messages stuck in sending for longer than this are failed",
		},
		&cli.DurationFlag{
			Sources: cli.EnvVars("SESSION_TTL"),
			Name:    "session-ttl",
			Value:   24 * time.Hour,
			Usage:   "lifetime of a local login session",
		},
		&cli.IntFlag{
			Sources: cli.EnvVars("RATE_LIMIT_RPM"),
			Name:    "rate-limit-rpm",
			Value:   30,
			Usage:   "requests per minute per client on guarded endpoints",
		},
	}
}

func FromCommand(c *cli.Command) Config {
	return Config{
		Environment:       c.String("env"),
		DBBackend:         c.String("db-backend"),
		DBPath:            c.String("db-path"),
		DatabaseURL:       c.String("database-url"),
		Host:              c.String("host"),
		Port:              c.Int("port"),
		Debug:             c.Bool("debug"),
		SSL:               c.Bool("ssl"),
		CredentialSecret:  c.String("credential-secret"),
		DispatchSecret:    c.String("dispatch-secret"),
		RootCredentials:   c.String("root-credentials"),
		DispatchInterval:  c.Duration("dispatch-interval"),
		DispatchBatchSize: c.Int("dispatch-batch-size"),
		RemoteTimeout:     c.Duration("remote-timeout"),
		BatchTimeout:      c.Duration("batch-timeout"),
		ArchiveRetention:  c.Duration("archive-retention"),
		StaleClaimAfter:   c.Duration("stale-claim-after"),
		SessionTTL:        c.Duration("session-ttl"),
		RateLimitRPM:      c.Int("rate-limit-rpm"),
	}
}

func (c Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Validate fails when the configuration would run with unsafe or unusable
// values. A missing credential secret is always fatal.
func (c Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}

	switch c.DBBackend {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("db-path is required for sqlite"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database-url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database backend %q", c.DBBackend))
	}

	if c.CredentialSecret == "" {
		errs = append(errs, vault.ErrMissingSecret)
	} else if c.CredentialSecret == vault.DevelopmentSecret && !c.IsDevelopment() {
		errs = append(errs, vault.ErrDefaultSecret)
	}
	if c.DispatchSecret != "" && c.DispatchSecret == c.CredentialSecret {
		errs = append(errs, errors.New("dispatch secret must differ from the credential secret"))
	}

	if c.DispatchInterval <= 0 {
		errs = append(errs, errors.New("dispatch-interval must be positive"))
	}
	if c.DispatchBatchSize <= 0 {
		errs = append(errs, errors.New("dispatch-batch-size must be positive"))
	}
	if c.RemoteTimeout <= 0 || c.BatchTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	} else if c.RemoteTimeout >= c.BatchTimeout {
		errs = append(errs, errors.New("remote-timeout must be shorter than batch-timeout"))
	}
	if c.RootCredentials != "" {
		if _, _, ok := c.RootUser(); !ok {
			errs = append(errs, errors.New("root-credentials must look like email:password"))
		}
	}
	if c.RateLimitRPM <= 0 {
		errs = append(errs, errors.New("rate-limit-rpm must be positive"))
	}

	return errors.Join(errs...)
}

// RootUser splits RootCredentials.
func (c Config) RootUser() (email string, password string, ok bool) {
	email, password, found := strings.Cut(c.RootCredentials, ":")
	if !found || email == "" || password == "" {
		return "", "", false
	}
	return email, password, true
}
