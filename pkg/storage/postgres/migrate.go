package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DefaultSchema          = "sessionguard"
	DefaultMigrationsTable = "schema_migrations"
)

// MigrateConfig places the migrations version table. Source, when set, is a
// migrate source URL (e.g. file:///path) used instead of the embedded
// migrations.
type MigrateConfig struct {
	Schema          string
	MigrationsTable string
	Source          string
}

func (c MigrateConfig) withDefaults() MigrateConfig {
	c.Schema = strings.TrimSpace(c.Schema)
	if c.Schema == "" {
		c.Schema = DefaultSchema
	}
	c.MigrationsTable = strings.TrimSpace(c.MigrationsTable)
	if c.MigrationsTable == "" {
		c.MigrationsTable = DefaultMigrationsTable
	}
	c.Source = strings.TrimSpace(c.Source)
	return c
}

// EnsureSchema creates schema when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB, schema string) error {
	if db == nil {
		return ErrNilDB
	}
	if strings.TrimSpace(schema) == "" {
		return fmt.Errorf("postgres migrate: schema is empty")
	}

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("ensure schema %q exists: %w", schema, err)
	}
	return nil
}

// NewMigrator returns a runner for the audit schema. The runner takes over
// db: closing the runner closes db.
func NewMigrator(ctx context.Context, db *sql.DB, cfg MigrateConfig) (*migrate.Migrate, string, error) {
	cfg = cfg.withDefaults()

	if err := EnsureSchema(ctx, db, cfg.Schema); err != nil {
		return nil, "", err
	}

	driver, err := mpostgres.WithInstance(db, &mpostgres.Config{
		SchemaName:      cfg.Schema,
		MigrationsTable: cfg.MigrationsTable,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create postgres migrate driver: %w", err)
	}

	if cfg.Source != "" {
		runner, err := migrate.NewWithDatabaseInstance(cfg.Source, "postgres", driver)
		if err != nil {
			return nil, "", fmt.Errorf("create migrate runner: %w", err)
		}
		return runner, cfg.Source, nil
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, "", fmt.Errorf("load embedded migrations: %w", err)
	}
	runner, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, "embedded", nil
}
