// Command migrate applies the SQL files in migrations/ using golang-migrate.
// The migration version is tracked in the schema_migrations table.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
)

// Version is set at build time
var Version = "dev"

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultMigrationsPath   = "migrations"
)

// Options holds migration settings
type Options struct {
	DatabaseURL    string
	MigrationsPath string
	Timeout        time.Duration
	DryRun         bool
	Confirm        bool
}

func main() {
	db := config.DatabaseConfig{}
	flag.StringVar(&db.Host, "db-host", getEnv("DB_HOST", "localhost"), "Database host")
	flag.StringVar(&db.Port, "db-port", getEnv("DB_PORT", "5432"), "Database port")
	flag.StringVar(&db.User, "db-user", getEnv("DB_USER", "postgres"), "Database user")
	flag.StringVar(&db.Password, "db-password", getEnv("DB_PASSWORD", ""), "Database password")
	flag.StringVar(&db.DBName, "db-name", getEnv("DB_NAME", "emx_dashboard"), "Database name")
	flag.StringVar(&db.SSLMode, "db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database SSL mode")

	var opts Options
	flag.StringVar(&opts.MigrationsPath, "path", getEnv("MIGRATIONS_PATH", defaultMigrationsPath), "Path to migrations directory")
	flag.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Connection and lock timeout")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Show what would be done without executing")
	flag.BoolVar(&opts.Confirm, "yes", false, "Confirm destructive commands (drop)")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Roll back all or N migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  drop         Drop all tables (requires -yes)\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("migrate version %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	opts.DatabaseURL = getEnv("DATABASE_URL", db.URL())

	if err := runCommand(opts, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runCommand(opts Options, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(opts, args[0])
	case "version":
		return printVersion(opts)
	case "up":
		steps, err := optionalInt(args)
		if err != nil {
			return err
		}
		return migrateSteps(opts, steps, true)
	case "down":
		steps, err := optionalInt(args)
		if err != nil {
			return err
		}
		return migrateSteps(opts, steps, false)
	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version number")
		}
		version, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return migrateGoto(opts, uint(version))
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return withMigrate(opts, fmt.Sprintf("force version %d", version), func(m *migrate.Migrate) error {
			return m.Force(version)
		})
	case "drop":
		if !opts.Confirm {
			return errors.New("drop removes every table; rerun with -yes to confirm")
		}
		return withMigrate(opts, "drop all tables", func(m *migrate.Migrate) error {
			return m.Drop()
		})
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func optionalInt(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return n, nil
}

// createMigration writes an empty NNNNNN_name up/down pair
func createMigration(opts Options, name string) error {
	next, err := nextMigrationNumber(opts.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	upFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.up.sql", next, name))
	downFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.down.sql", next, name))

	if opts.DryRun {
		log.Printf("[DRY RUN] Would create: %s", upFile)
		log.Printf("[DRY RUN] Would create: %s", downFile)
		return nil
	}

	if err := os.MkdirAll(opts.MigrationsPath, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	created := time.Now().Format(time.RFC3339)
	if err := os.WriteFile(upFile, []byte(fmt.Sprintf("-- %s\n-- Created: %s\n", name, created)), 0o644); err != nil {
		return fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(fmt.Sprintf("-- %s (rollback)\n-- Created: %s\n", name, created)), 0o644); err != nil {
		return fmt.Errorf("failed to create down migration: %w", err)
	}

	log.Printf("Created %s and %s", upFile, downFile)
	return nil
}

func nextMigrationNumber(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	maxNum := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return maxNum + 1, nil
}

func printVersion(opts Options) error {
	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations have been applied yet")
			return nil
		}
		return fmt.Errorf("failed to get version: %w", err)
	}

	status := ""
	if dirty {
		status = " (dirty)"
	}
	log.Printf("Current migration version: %d%s", version, status)
	return nil
}

// migrateSteps applies n migrations in the given direction; n == 0 means all
func migrateSteps(opts Options, n int, up bool) error {
	direction := "down"
	if up {
		direction = "up"
	}
	return withMigrate(opts, fmt.Sprintf("migrate %s %d (0 = all)", direction, n), func(m *migrate.Migrate) error {
		switch {
		case n > 0 && up:
			return m.Steps(n)
		case n > 0:
			return m.Steps(-n)
		case up:
			return m.Up()
		default:
			return m.Down()
		}
	})
}

func migrateGoto(opts Options, version uint) error {
	return withMigrate(opts, fmt.Sprintf("migrate to version %d", version), func(m *migrate.Migrate) error {
		return m.Migrate(version)
	})
}

// withMigrate runs op against a fresh migrate instance and logs the version change
func withMigrate(opts Options, description string, op func(*migrate.Migrate) error) error {
	if opts.DryRun {
		log.Printf("[DRY RUN] Would %s", description)
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	before, _, _ := m.Version()
	log.Printf("Starting: %s (current version %d)", description, before)

	if err := op(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No change")
			return nil
		}
		return fmt.Errorf("%s failed: %w", description, err)
	}

	after, _, _ := m.Version()
	log.Printf("Completed: %d -> %d", before, after)
	return nil
}

func newMigrate(opts Options) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	migrationsPath, err := filepath.Abs(opts.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = opts.Timeout

	return m, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
