// Package sqlbackend opens the SQL database used when the storefront runs without a
// hosted backend, and applies its schema.
package sqlbackend

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations
var migrations embed.FS

// DB is an open database together with the driver it was opened with.
type DB struct {
	*sql.DB
	Driver string
}

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Credentials) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

// OpenSQLite opens path (":memory:" for a private in-memory database).
func OpenSQLite(path string) (*DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: every :memory: connection is a separate database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: db, Driver: DriverSQLite}, nil
}

func OpenPostgres(cred Credentials) (*DB, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &DB{DB: db, Driver: DriverPostgres}, nil
}

// RunMigrations applies every pending up migration for the database's driver.
func (db *DB) RunMigrations() error {
	src, err := iofs.New(migrations, "migrations/"+db.Driver)
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	var driver database.Driver
	switch db.Driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{
			MigrationsTable: "storefront_schema_migrations",
		})
	default:
		return fmt.Errorf("unsupported driver %q", db.Driver)
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.Driver, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure on either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
