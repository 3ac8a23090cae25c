// Package query runs SQL over trial tables with DuckDB.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// Engine executes SQL queries using an in-memory DuckDB.
type Engine struct {
	db *sql.DB
}

// NewEngine creates a new query engine.
func NewEngine() (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to initialize duckdb")
	}
	return &Engine{db: db}, nil
}

// Close closes the engine.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Register exposes a table file as a view. Parquet and CSV files are
// read in place, JSONL files are copied into a table, and a DuckDB
// database is attached and its markers table is used.
func (e *Engine) Register(ctx context.Context, name, path string) error {
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"

	var from string
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "parquet", "pq":
		from = "read_parquet(" + quoted + ")"
	case "csv":
		from = "read_csv_auto(" + quoted + ", header=true)"
	case "jsonl", "ndjson", "json":
		from = name + "_jsonl"
		if err := e.loadJSONL(ctx, from, path); err != nil {
			return err
		}
	case "duckdb", "db":
		alias := name + "_db"
		if _, err := e.db.ExecContext(ctx, fmt.Sprintf("ATTACH %s AS %s (READ_ONLY)", quoted, alias)); err != nil {
			return errors.Wrap(err, errors.CodeInput, "failed to attach database").WithContext("path", path)
		}
		from = alias + ".markers"
	default:
		return errors.Newf(errors.CodeInput, "cannot query %q: unknown format", path)
	}

	q := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", name, from)
	if _, err := e.db.ExecContext(ctx, q); err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to register table").WithContext("path", path)
	}
	return nil
}

// Columns lists the column names of a registered table.
func (e *Engine) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", table))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to describe table")
	}
	defer rows.Close()
	return rows.Columns()
}

// Rows is a fully read query result.
type Rows struct {
	Columns []string
	Values  [][]interface{}
}

// Query runs q and reads every row.
func (e *Engine) Query(ctx context.Context, q string, args ...interface{}) (*Rows, error) {
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "query failed")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to get columns")
	}

	out := &Rows{Columns: cols}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.CodeInput, "failed to scan row")
		}
		out.Values = append(out.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "query failed")
	}
	return out, nil
}
