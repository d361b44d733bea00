// Package config loads the command line client's configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (SESSIONGUARD_*, e.g. SESSIONGUARD_CREDENTIALS_PASSWORD)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/porthorian/sessionguard/pkg/credentials"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/retry"
	"github.com/spf13/viper"
)

const EnvPrefix = "SESSIONGUARD"

const (
	AuditBackendNone     = "none"
	AuditBackendMemory   = "memory"
	AuditBackendPostgres = "postgres"
)

type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Retry       RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Audit       AuditConfig       `mapstructure:"audit" yaml:"audit"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
}

// CredentialsConfig is the login identity. Password and Token should come
// from the environment rather than the file. Completeness is checked by
// Credentials, since not every command logs in.
type CredentialsConfig struct {
	URL        string `mapstructure:"url" validate:"omitempty,url" yaml:"url"`
	UserName   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"-"`
	Token      string `mapstructure:"token" yaml:"-"`
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
}

type RetryConfig struct {
	Budget              int           `mapstructure:"budget" validate:"gte=1" yaml:"budget"`
	InitialInterval     time.Duration `mapstructure:"initial_interval" validate:"gte=0" yaml:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval" yaml:"max_interval"`
	RandomizationFactor float64       `mapstructure:"randomization_factor" validate:"gte=0,lte=1" yaml:"randomization_factor"`
	Multiplier          float64       `mapstructure:"multiplier" validate:"gte=1" yaml:"multiplier"`
}

type AuditConfig struct {
	Backend        string `mapstructure:"backend" validate:"oneof=none memory postgres" yaml:"backend"`
	DSN            string `mapstructure:"dsn" validate:"required_if=Backend postgres" yaml:"-"`
	FingerprintKey string `mapstructure:"fingerprint_key" validate:"required_unless=Backend none" yaml:"-"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info error" yaml:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json" yaml:"format"`
}

// MetricsConfig writes the collected metrics to Textfile, in the Prometheus
// text format, when a command finishes.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Textfile string `mapstructure:"textfile" validate:"required_if=Enabled true" yaml:"textfile"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
}

func Default() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Retry: RetryConfig{
			Budget:              policy.Budget,
			InitialInterval:     policy.InitialInterval,
			MaxInterval:         policy.MaxInterval,
			RandomizationFactor: policy.RandomizationFactor,
			Multiplier:          policy.Multiplier,
		},
		Audit:   AuditConfig{Backend: AuditBackendNone},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Timeout: 30 * time.Second},
	}
}

// Load reads path, if given, and applies environment overrides on top of
// Default. An explicitly named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, oerrors.Wrap(oerrors.CodeInvalidArgument, "config: read "+path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, oerrors.Wrap(oerrors.CodeInvalidArgument, "config: decode", err)
	}
	normalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that environment variables resolve even
// when no file mentions them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("credentials.url", d.Credentials.URL)
	v.SetDefault("credentials.username", d.Credentials.UserName)
	v.SetDefault("credentials.password", d.Credentials.Password)
	v.SetDefault("credentials.token", d.Credentials.Token)
	v.SetDefault("credentials.api_version", d.Credentials.APIVersion)

	v.SetDefault("retry.budget", d.Retry.Budget)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)
	v.SetDefault("retry.randomization_factor", d.Retry.RandomizationFactor)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)

	v.SetDefault("audit.backend", d.Audit.Backend)
	v.SetDefault("audit.dsn", d.Audit.DSN)
	v.SetDefault("audit.fingerprint_key", d.Audit.FingerprintKey)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)

	v.SetDefault("http.timeout", d.HTTP.Timeout)
}

func normalize(cfg *Config) {
	cfg.Audit.Backend = strings.ToLower(strings.TrimSpace(cfg.Audit.Backend))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return oerrors.InvalidArgument("config: nil config")
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return oerrors.Wrap(oerrors.CodeInvalidArgument, "config: validation failed", err)
	}
	return nil
}

func (c CredentialsConfig) Credentials() (credentials.Credentials, error) {
	return credentials.New(c.URL, c.UserName, c.Password, c.Token, c.APIVersion)
}

func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Budget:              c.Budget,
		InitialInterval:     c.InitialInterval,
		MaxInterval:         c.MaxInterval,
		RandomizationFactor: c.RandomizationFactor,
		Multiplier:          c.Multiplier,
	}
}
