package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// MigrationsTable is where golang-migrate keeps its version metadata.
const MigrationsTable = "schema_migrations_migrate"

// Status describes the schema version of a database.
type Status struct {
	Version uint
	Dirty   bool
	Applied bool
}

// RunMigrations applies every pending migration.
func RunMigrations(databaseURL string) error {
	m, closeFn, err := open(databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, _, _ := m.Version()
	log.WithField("version", version).Info("[MIGRATE] Migrations applied")
	return nil
}

// Down rolls back the given number of migrations.
func Down(databaseURL string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, closeFn, err := open(databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	log.WithField("steps", steps).Info("[MIGRATE] Rolled back")
	return nil
}

// CurrentStatus reports the applied version.
func CurrentStatus(databaseURL string) (Status, error) {
	m, closeFn, err := open(databaseURL)
	if err != nil {
		return Status{}, err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return Status{Version: version, Dirty: dirty, Applied: true}, nil
}

func open(databaseURL string) (*migrate.Migrate, func(), error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("database URL is empty")
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open DB: %w", err)
	}

	driver, err := pg.WithInstance(sqlDB, &pg.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, func() { m.Close() }, nil
}
