package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/slotworks/booking-engine/internal/config"
)

// DB interface defines database operations
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Rebind(query string) string
	PingContext(ctx context.Context) error
	Close() error
}

// PostgresDB implements the DB interface using sqlx
type PostgresDB struct {
	*sqlx.DB
}

// Wrap adapts an existing sqlx handle (tests use this with sqlmock)
func Wrap(db *sqlx.DB) *PostgresDB {
	return &PostgresDB{DB: db}
}

// maskPassword masks the password in a database URL for safe logging
func maskPassword(url string) string {
	re := regexp.MustCompile(`(postgres(?:ql)?://[^:]+:)([^@]+)(@.+)`)
	return re.ReplaceAllString(url, "${1}****${3}")
}

// NewConnection creates a new database connection using the configured driver
func NewConnection(cfg config.DatabaseConfig) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	var (
		db  *sqlx.DB
		err error
	)

	switch cfg.Driver {
	case "pgx":
		db, err = connectPgx(cfg.URL)
	default:
		db, err = sqlx.Connect("postgres", cfg.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", maskPassword(cfg.URL), err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// connectPgx opens the database through the pgx stdlib driver. Transaction-mode
// poolers (port 6543) do not support prepared statements, so the simple
// protocol is used there.
func connectPgx(url string) (*sqlx.DB, error) {
	pgxConfig, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if strings.Contains(url, ":6543") {
		pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	connStr := stdlib.RegisterConnConfig(pgxConfig)
	return sqlx.Connect("pgx", connStr)
}
