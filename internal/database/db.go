package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB represents a database connection shared by every pipeline component
type DB struct {
	*sqlx.DB
	driver string
	now    func() time.Time
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a lib/pq connection string
func (p ConnectionParams) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslMode,
	)
}

// New opens a database connection, checks it and applies the schema
func New(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("empty database connection string")
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// a single connection serializes writers; claims rely on it
		conn.SetMaxOpenConns(1)
	}

	// Check connection
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{DB: conn, driver: driver, now: func() time.Time { return time.Now().UTC() }}

	// Create tables if they don't exist
	if err := db.createTables(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return db, nil
}

// sqliteDSN adds the pragmas every SQLite connection needs
func sqliteDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

// Driver returns the name of the SQL driver in use
func (db *DB) Driver() string {
	return db.driver
}

// SetClock replaces the time source used for stored timestamps
func (db *DB) SetClock(now func() time.Time) {
	db.now = func() time.Time { return now().UTC() }
}

func (db *DB) createTables(ctx context.Context) error {
	schema := postgresSchema
	if db.driver == DriverSQLite {
		schema = sqliteSchema
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// noRows maps sql.ErrNoRows to a nil error so lookups can return nil, nil
func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// q rebinds a query written with ? placeholders for the active driver
func (db *DB) q(query string) string {
	return db.Rebind(query)
}
