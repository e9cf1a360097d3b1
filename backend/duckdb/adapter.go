package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb as a database/sql driver

	"github.com/terravec/spatialfilter/backend"
)

// Adapter executes generated statements on an embedded DuckDB file through
// database/sql. The spatial extension is installed and loaded on open.
type Adapter struct {
	db *sql.DB
}

// AdapterConfig configures a DuckDB adapter.
type AdapterConfig struct {
	// Path is the database file path. REQUIRED unless DB is set.
	// ":memory:" opens a transient store.
	Path string

	// DB is an existing handle to reuse. OPTIONAL: overrides Path when set.
	// The caller is responsible for loading the spatial extension.
	DB *sql.DB

	// MaxConns caps the connection pool. OPTIONAL: 0 keeps the driver default.
	MaxConns int
}

// NewAdapter opens (or wraps) a DuckDB database and loads the spatial
// extension.
func NewAdapter(ctx context.Context, cfg AdapterConfig) (*Adapter, error) {
	db := cfg.DB
	if db == nil {
		if cfg.Path == "" {
			return nil, fmt.Errorf("duckdb adapter: Path or DB is required")
		}
		var err error
		db, err = sql.Open("duckdb", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		if _, err := db.ExecContext(ctx, "INSTALL spatial; LOAD spatial;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("load spatial extension: %w", err)
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

// CreateSpatialIndex builds an R-tree index over table(geometryColumn).
func (a *Adapter) CreateSpatialIndex(ctx context.Context, table, geometryColumn string) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING RTREE (%s)",
		quoteIdent(table+"_sidx"), quoteIdent(table), quoteIdent(geometryColumn))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create spatial index on %s: %w", table, err)
	}
	return nil
}

// HasTable reports whether the table exists.
func (a *Adapter) HasTable(ctx context.Context, table string) (bool, error) {
	var n int64
	err := a.db.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = ?",
		table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// ListTables returns tables whose names start with prefix.
func (a *Adapter) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_name LIKE ? || '%'",
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

// Close releases the underlying handle.
func (a *Adapter) Close() error { return a.db.Close() }

var _ backend.Adapter = (*Adapter)(nil)
