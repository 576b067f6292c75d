package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"

	defaultDSN = "host=localhost user=postgres password=postgres dbname=sitestock port=5432 sslmode=disable"
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	HTTP struct {
		Port        string
		CORSOrigins string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`

		// ExternalTokens accepts running without Postgres: login and register
		// are not served and tokens signed with JWTSecret come from elsewhere.
		ExternalTokens bool `mapstructure:"external_tokens"`
	} `mapstructure:"auth"`

	Storage struct {
		Driver string
	} `mapstructure:"storage"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Mongo struct {
		URI      string
		Database string
	} `mapstructure:"mongo"`

	Ledger struct {
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		MaxRetries     uint64        `mapstructure:"max_retries"`
		RetryBase      time.Duration `mapstructure:"retry_base"`
	} `mapstructure:"ledger"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`
}

// Load reads path (optional) and SITESTOCK_* environment overrides,
// e.g. SITESTOCK_POSTGRES_DSN or SITESTOCK_AUTH_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SITESTOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.cors_origins", "http://localhost:5173")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.external_tokens", false)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("postgres.dsn", defaultDSN)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "sitestock")
	v.SetDefault("ledger.request_timeout", 10*time.Second)
	v.SetDefault("ledger.max_retries", 3)
	v.SetDefault("ledger.retry_base", 20*time.Millisecond)
	v.SetDefault("metrics.enabled", true)
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 characters")
	}
	switch c.Storage.Driver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not one of postgres, mongo, memory", c.Storage.Driver)
	}
	if c.Ledger.RequestTimeout <= 0 {
		return errors.New("ledger.request_timeout must be positive")
	}
	if !c.PostgresEnabled() && !c.Auth.ExternalTokens {
		return fmt.Errorf("storage.driver %q without postgres.dsn leaves no login endpoint: set postgres.dsn or auth.external_tokens", c.Storage.Driver)
	}
	return nil
}

// PostgresEnabled reports whether Postgres is opened at all. It always is
// for the postgres driver; the other drivers need an explicit DSN.
func (c *Config) PostgresEnabled() bool {
	return c.Storage.Driver == DriverPostgres || !c.DefaultDSN()
}

// DefaultDSN reports whether the built-in development DSN is still in use.
func (c *Config) DefaultDSN() bool {
	return c.Postgres.DSN == defaultDSN
}

// CORSOriginList splits the comma separated origin setting.
func (c *Config) CORSOriginList() []string {
	parts := strings.Split(c.HTTP.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
