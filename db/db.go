// Package db opens the credential database, applies its schema and stores
// saved credentials. Postgres (pgx) is the production backend; SQLite
// (modernc, pure Go) serves single-node and development deployments.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// Driver names as registered with database/sql.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// ParseDSN picks the driver for dsn and returns the data source name to
// hand to it. postgres:// and postgresql:// select pgx; sqlite://path and
// file: URIs select SQLite.
func ParseDSN(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite dsn has no path: %q", dsn)
		}
		return DriverSQLite, path, nil
	case strings.HasPrefix(dsn, "file:"):
		return DriverSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported DB_DSN scheme: %q", redact(dsn))
	}
}

// Connect opens and pings the database named by dsn.
func Connect(ctx context.Context, dsn string) (*sql.DB, string, error) {
	driver, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}
	database, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; also keeps :memory: databases on a single connection.
		database.SetMaxOpenConns(1)
	}
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, "", fmt.Errorf("ping %s: %w", driver, err)
	}
	return database, driver, nil
}

// Migrate brings the schema up to date: versioned golang-migrate
// migrations on Postgres, the idempotent embedded schema on SQLite.
func Migrate(ctx context.Context, database *sql.DB, driver string) error {
	switch driver {
	case DriverPostgres:
		return RunMigrations(database)
	case DriverSQLite:
		return migrateSQLite(ctx, database)
	default:
		return fmt.Errorf("migrate: unknown driver %q", driver)
	}
}

func migrateSQLite(ctx context.Context, database *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS user_accounts (
			identity TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			encryption_version INTEGER NOT NULL DEFAULT 0,
			encryption_key_id TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_accounts_encryption_version ON user_accounts(encryption_version)`,
	}
	for i, s := range stmts {
		if _, err := database.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlite migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func rebind(driver, q string) string {
	if driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// redact hides everything after the scheme so credentials never reach logs.
func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	if len(dsn) > 8 {
		return dsn[:8] + "..."
	}
	return dsn
}
