package sessionguard

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	_ "github.com/jackc/pgx/v5/stdlib"
	ocrypto "github.com/porthorian/sessionguard/pkg/crypto"
	"github.com/porthorian/sessionguard/pkg/metrics"
	"github.com/porthorian/sessionguard/pkg/session"
	memorystore "github.com/porthorian/sessionguard/pkg/storage/memory"
	"github.com/porthorian/sessionguard/pkg/storage/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

type AuditBackend string

const (
	AuditBackendNone     AuditBackend = "none"
	AuditBackendMemory   AuditBackend = "memory"
	AuditBackendPostgres AuditBackend = "postgres"
)

type RuntimeConfig struct {
	Audit   AuditConfig
	Metrics MetricsConfig
}

type AuditConfig struct {
	Backend  AuditBackend
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

// MetricsConfig enables Prometheus collectors when Registerer is set.
type MetricsConfig struct {
	Registerer prometheus.Registerer

	collector *metrics.Metrics
}

func resolveLogger(logger logr.Logger) logr.Logger {
	if logger.GetSink() == nil {
		return logr.Discard()
	}
	return logger
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	config.Retry = config.Retry.WithDefaults()
	if err := config.Retry.Validate(); err != nil {
		return nil, Config{}, err
	}

	closeAudit, config, err := initializeAudit(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}

	config = initializeMetrics(config)
	return joinClosers(closeAudit), config, nil
}

func (c Config) managerOptions() ([]session.Option, error) {
	options := []session.Option{
		session.WithLogger(c.Logger),
		session.WithMetrics(c.Runtime.Metrics.collector),
	}
	if c.AuditStore == nil {
		return options, nil
	}

	fingerprinter, err := ocrypto.NewHMACFingerprinter(c.FingerprintKey)
	if err != nil {
		return nil, fmt.Errorf("sessionguard config: audit requires a fingerprint key: %w", err)
	}
	return append(options, session.WithAudit(c.AuditStore, fingerprinter)), nil
}

func initializeAudit(ctx context.Context, config Config) (func() error, Config, error) {
	if config.AuditStore != nil {
		return noopCloser, config, nil
	}

	backend := config.Runtime.Audit.Backend
	if backend == "" {
		backend = AuditBackendNone
	}

	switch backend {
	case AuditBackendNone:
		return noopCloser, config, nil
	case AuditBackendMemory:
		config.AuditStore = memorystore.NewAdapter()
		config.Logger.V(1).Info("initialized memory audit backend")
		return noopCloser, config, nil
	case AuditBackendPostgres:
		return initializePostgres(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("sessionguard config: unsupported runtime.audit.backend %q", backend)
	}
}

func initializeMetrics(config Config) Config {
	if config.Runtime.Metrics.Registerer == nil {
		return config
	}
	config.Runtime.Metrics.collector = metrics.New(config.Runtime.Metrics.Registerer)
	return config
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, error) {
	pgConfig := config.Runtime.Audit.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("sessionguard config: runtime.audit.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("sessionguard config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("sessionguard config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("sessionguard config: failed to initialize postgres adapter: %w", err)
	}

	config.AuditStore = adapter
	config.Runtime.Audit.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres audit backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns)
	return joinClosers(db.Close, adapter.Close), config, nil
}

// joinClosers runs closers in reverse order and combines their errors.
func joinClosers(closers ...func() error) func() error {
	return func() error {
		var result *multierror.Error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				result = multierror.Append(result, err)
			}
		}

		return result.ErrorOrNil()
	}
}

func noopCloser() error {
	return nil
}
