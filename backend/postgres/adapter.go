package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/terravec/spatialfilter/backend"
)

// Adapter executes generated statements on a PostGIS database through
// database/sql with the pgx driver. Connections are checked out per call by
// the pool and always returned; MaxConns bounds the pool and therefore the
// server-relational concurrency cap.
type Adapter struct {
	db *sql.DB
}

// AdapterConfig configures a PostGIS adapter.
type AdapterConfig struct {
	// DSN is the Postgres connection string. REQUIRED unless DB is set.
	DSN string

	// DB is an existing pool to reuse. OPTIONAL: overrides DSN when set.
	DB *sql.DB

	// MaxConns caps the connection pool. OPTIONAL: 0 keeps the driver default.
	MaxConns int
}

// NewAdapter opens (or wraps) a PostGIS connection pool.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	db := cfg.DB
	if db == nil {
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres adapter: DSN or DB is required")
		}
		var err error
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	return &Adapter{db: db}, nil
}

// Exec runs a statement that returns no rows.
func (a *Adapter) Exec(ctx context.Context, stmt backend.Statement) error {
	if _, err := a.db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// QueryCount runs a statement returning a single integer.
func (a *Adapter) QueryCount(ctx context.Context, stmt backend.Statement) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return n, nil
}

// CreateSpatialIndex builds a GiST index over table(geometryColumn).
func (a *Adapter) CreateSpatialIndex(ctx context.Context, table, geometryColumn string) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
		quoteIdent(table+"_sidx"), quoteIdent(table), quoteIdent(geometryColumn))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create spatial index on %s: %w", table, err)
	}
	return nil
}

// HasTable reports whether the table exists in the current schema.
func (a *Adapter) HasTable(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)",
		table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return exists, nil
}

// ListTables returns tables whose names start with prefix.
func (a *Adapter) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_name LIKE $1 || '%'",
		prefix)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DropTable removes a derived object. Missing objects are not an error.
func (a *Adapter) DropTable(ctx context.Context, table string) error {
	if _, err := a.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// Close releases the underlying pool.
func (a *Adapter) Close() error { return a.db.Close() }

var _ backend.Adapter = (*Adapter)(nil)
