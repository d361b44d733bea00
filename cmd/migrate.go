package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/porthorian/sessionguard/pkg/storage/postgres"
	"github.com/spf13/cobra"
)

type migrateConfig struct {
	DatabaseURL     string
	Schema          string
	MigrationsTable string
	MigrationsPath  string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{
		Schema:          postgres.DefaultSchema,
		MigrationsTable: postgres.DefaultMigrationsTable,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres login audit schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Defaults to audit.dsn from the configuration (SESSIONGUARD_AUDIT_DSN).")
	migrateCmd.PersistentFlags().StringVar(&cfg.Schema, "schema", cfg.Schema, "Schema holding the migrations version table.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Migrations version table name.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to the migrations built into the binary.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Run schema migrations up",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			runner, source, err := newMigrationRunner(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeMigrationRunner(cmd, runner)

			if hasSteps {
				err = runner.Steps(steps)
			} else {
				err = runner.Up()
			}
			if err != nil {
				if applied, ok := boundaryProgress(err, steps, hasSteps); ok {
					reportMigrationSteps(cmd, "Applied", "apply", applied, steps, hasSteps, source)
					return nil
				}
				return explainMigrationError("apply migrations", err)
			}

			if hasSteps {
				cmd.Printf("Applied %d migration step(s) from %s\n", steps, source)
				return nil
			}
			cmd.Printf("Applied all pending migrations from %s\n", source)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Rollback schema migrations down by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			runner, source, err := newMigrationRunner(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeMigrationRunner(cmd, runner)

			if err := runner.Steps(-steps); err != nil {
				if rolledBack, ok := boundaryProgress(err, steps, true); ok {
					reportMigrationSteps(cmd, "Rolled back", "rollback", rolledBack, steps, true, source)
					return nil
				}
				return explainMigrationError("rollback migrations", err)
			}

			cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, source)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set migration version (-1 for nil version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			runner, _, err := newMigrationRunner(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeMigrationRunner(cmd, runner)

			if err := runner.Force(version); err != nil {
				return explainMigrationError("force migration version", err)
			}

			if version == -1 {
				cmd.Println("Forced migration version to -1 (no version).")
				return nil
			}
			cmd.Printf("Forced migration version to %d.\n", version)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, _, err := newMigrationRunner(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeMigrationRunner(cmd, runner)

			version, dirty, err := runner.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				cmd.Println("No migrations applied yet.")
				return nil
			}
			if err != nil {
				return explainMigrationError("read migration version", err)
			}
			cmd.Printf("Version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	})

	return migrateCmd
}

func resolveDatabaseURL(databaseURLFlag string) (string, error) {
	databaseURL := strings.TrimSpace(databaseURLFlag)
	if databaseURL != "" {
		return databaseURL, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	databaseURL = strings.TrimSpace(cfg.Audit.DSN)
	if databaseURL == "" {
		return "", errors.New("missing database URL: set --database-url or SESSIONGUARD_AUDIT_DSN")
	}
	return databaseURL, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

func newMigrationRunner(cmd *cobra.Command, cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}
	source, err := resolveMigrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	runner, sourceName, err := postgres.NewMigrator(cmd.Context(), db, postgres.MigrateConfig{
		Schema:          cfg.Schema,
		MigrationsTable: cfg.MigrationsTable,
		Source:          source,
	})
	if err != nil {
		_ = db.Close()
		return nil, "", explainMigrationError("prepare migrations", err)
	}
	return runner, sourceName, nil
}

func resolveMigrationsSourceURL(migrationsPath string) (string, error) {
	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" || strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func closeMigrationRunner(cmd *cobra.Command, runner *migrate.Migrate) {
	if runner == nil {
		return
	}
	sourceErr, databaseErr := runner.Close()
	if err := errors.Join(sourceErr, databaseErr); err != nil {
		cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", err)
	}
}

// boundaryProgress reports how many of the requested steps ran when err only
// says the first or last migration was reached.
func boundaryProgress(err error, steps int, hasSteps bool) (int, bool) {
	if isNoChangeBoundaryError(err) {
		return 0, true
	}

	var shortLimit migrate.ErrShortLimit
	if hasSteps && errors.As(err, &shortLimit) {
		return max(steps-int(shortLimit.Short), 0), true
	}
	return 0, false
}

func reportMigrationSteps(cmd *cobra.Command, verb string, noun string, done int, requested int, hasSteps bool, source string) {
	if done == 0 {
		cmd.Printf("No schema changes to %s.\n", noun)
		return
	}
	if hasSteps && done < requested {
		cmd.Printf("%s %d migration step(s) from %s (requested %d step(s), reached migration boundary)\n", verb, done, source, requested)
		return
	}
	cmd.Printf("%s %d migration step(s) from %s\n", verb, done, source)
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}

	// golang-migrate returns bare os.ErrNotExist when a step command
	// reaches the migration boundary (already at latest/earliest version).
	return err == os.ErrNotExist
}

// explainMigrationError adds a hint for the postgres failures operators hit
// most often.
func explainMigrationError(action string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42501":
			return fmt.Errorf("%s: role lacks privileges to create the audit schema or tables: %w", action, err)
		case "3D000":
			return fmt.Errorf("%s: database does not exist: %w", action, err)
		case "28P01":
			return fmt.Errorf("%s: password authentication failed: %w", action, err)
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}
