package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"
)

// InMemory selects a private in-memory SQLite database.
const InMemory = ":memory:"

// NewDB wraps sqldb in bun. Debug logs every query.
func NewDB(sqldb *sql.DB, dialect schema.Dialect, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, dialect)
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens postgres through pgdriver. A separate password keeps it out
// of the DSN in config files.
func ConnectDB(dsn, password string) *sql.DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(withSSLMode(dsn))}
	if password != "" {
		opts = append(opts, pgdriver.WithPassword(password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

// OpenPostgres connects with pgdriver and checks the connection.
func OpenPostgres(ctx context.Context, dsn, password string, debug bool) (*bun.DB, error) {
	db := NewDB(ConnectDB(dsn, password), pgdialect.New(), debug)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// OpenPostgresPQ connects through lib/pq, for catalogs on servers where the
// pgdriver wire protocol options are not wanted.
func OpenPostgresPQ(ctx context.Context, dsn string, debug bool) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", withSSLMode(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db := NewDB(sqldb, pgdialect.New(), debug)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens the single-file store at path, creating its directory.
// InMemory or an empty path yields a private in-memory database.
func OpenSQLite(path string, debug bool) (*bun.DB, error) {
	dsn := InMemory
	if path != "" && path != InMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// one connection: every pooled in-memory connection would be its own database
	sqldb.SetMaxOpenConns(1)

	db := NewDB(sqldb, sqlitedialect.New(), debug)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite %s: %w", path, err)
	}
	log.Debug().Str("path", dsn).Msg("Opened sqlite database")
	return db, nil
}

func withSSLMode(dsn string) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&sslmode=disable"
	}
	return dsn + "?sslmode=disable"
}
