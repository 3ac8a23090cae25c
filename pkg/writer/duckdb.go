package writer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

// DuckDBTable is the name of the table holding trial rows.
const DuckDBTable = "markers"

// DuckDBWriter writes tables into a DuckDB database file. An existing
// file at the path is replaced.
type DuckDBWriter struct {
	cfg        Config
	outputPath string
	columns    []protocol.Column
	db         *sql.DB
	stmt       *sql.Stmt

	mu               sync.Mutex
	totalRowsWritten int64
	closed           bool
}

// NewDuckDBWriter creates the database and its markers table.
func NewDuckDBWriter(outputPath string, columns []protocol.Column, cfg Config) (*DuckDBWriter, error) {
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to replace database").
			WithContext("path", outputPath)
	}

	db, err := sql.Open("duckdb", outputPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to open duckdb")
	}

	defs := make([]string, len(columns))
	names := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		notNull := ""
		if i < 3 {
			notNull = " NOT NULL"
		}
		defs[i] = fmt.Sprintf("%s %s%s", quoteIdent(c.Name), sqlType(c.Type), notNull)
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", DuckDBTable, strings.Join(defs, ", "))); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to create table")
	}

	stmt, err := db.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		DuckDBTable, strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to prepare insert")
	}

	return &DuckDBWriter{
		cfg:        cfg,
		outputPath: outputPath,
		columns:    columns,
		db:         db,
		stmt:       stmt,
	}, nil
}

func sqlType(t protocol.FieldType) string {
	switch t {
	case protocol.TypeInt:
		return "BIGINT"
	case protocol.TypeFloat:
		return "DOUBLE"
	case protocol.TypeBool:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteTable inserts every row of t in one transaction.
func (w *DuckDBWriter) WriteTable(ctx context.Context, t *table.Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New(errors.CodeWrite, "duckdb writer is closed")
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to begin transaction")
	}

	stmt := tx.StmtContext(ctx, w.stmt)
	args := make([]interface{}, len(w.columns))
	for row := 0; row < t.Len(); row++ {
		for i, c := range w.columns {
			args[i] = cell(t, row, c.Name)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.CodeWrite, "failed to insert row").WithContext("row", row)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to commit transaction")
	}
	w.totalRowsWritten += int64(t.Len())
	return nil
}

// Close stores the metadata table and closes the database.
func (w *DuckDBWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	defer w.db.Close()
	w.stmt.Close()

	if len(w.cfg.Metadata) == 0 {
		return nil
	}
	if _, err := w.db.Exec("CREATE TABLE metadata (key VARCHAR PRIMARY KEY, value VARCHAR)"); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to create metadata table")
	}
	keys := make([]string, 0, len(w.cfg.Metadata))
	for k := range w.cfg.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := w.db.Exec("INSERT INTO metadata VALUES (?, ?)", k, w.cfg.Metadata[k]); err != nil {
			return errors.Wrap(err, errors.CodeWrite, "failed to write metadata")
		}
	}
	return nil
}

// RowsWritten returns the total number of rows written.
func (w *DuckDBWriter) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRowsWritten
}
