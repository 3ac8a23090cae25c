// Package writer persists trial tables as Parquet, CSV, XLSX, JSONL or a
// DuckDB database.
package writer

import (
	"bufio"
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

// Writer writes one or more tables sharing the same columns.
type Writer interface {
	// WriteTable appends every row of t.
	WriteTable(ctx context.Context, t *table.Table) error

	// Close flushes buffered rows and finalizes the output.
	Close() error
}

// Format represents a supported output format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatParquet
	FormatCSV
	FormatXLSX
	FormatJSONL
	FormatDuckDB
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatParquet:
		return "parquet"
	case FormatCSV:
		return "csv"
	case FormatXLSX:
		return "xlsx"
	case FormatJSONL:
		return "jsonl"
	case FormatDuckDB:
		return "duckdb"
	default:
		return "unknown"
	}
}

// Extension returns the conventional file extension, with the dot.
func (f Format) Extension() string {
	if f == FormatUnknown {
		return ""
	}
	return "." + f.String()
}

// ParseFormat parses a format string.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "parquet", "pq":
		return FormatParquet
	case "csv":
		return FormatCSV
	case "xlsx", "excel":
		return FormatXLSX
	case "jsonl", "ndjson", "json":
		return FormatJSONL
	case "duckdb", "db":
		return FormatDuckDB
	default:
		return FormatUnknown
	}
}

// DetectFormat picks a format from a file extension.
func DetectFormat(path string) Format {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Config holds writer configuration.
type Config struct {
	Format Format

	// BatchSize is the number of rows per Arrow record batch.
	BatchSize int

	// Compression type for Parquet output.
	Compression CompressionType

	// Metadata is stored as key-value metadata where the format allows.
	Metadata map[string]string
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// DefaultConfig returns a Parquet config with snappy compression.
func DefaultConfig() Config {
	return Config{
		Format:      FormatParquet,
		BatchSize:   8192,
		Compression: CompressionSnappy,
	}
}

// New creates a writer for the stream formats. DuckDB output needs a
// path; use WriteFile for it.
func New(out io.Writer, t *table.Table, cfg Config) (Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	switch cfg.Format {
	case FormatParquet:
		return NewParquetWriter(out, t.Columns, cfg)
	case FormatCSV:
		return NewCSVWriter(out, t.Columns), nil
	case FormatXLSX:
		return NewXLSXWriter(out, t.Columns, cfg.Metadata)
	case FormatJSONL:
		return NewJSONLWriter(out, t.Columns), nil
	default:
		return nil, errors.Newf(errors.CodeWrite, "format %s cannot stream", cfg.Format)
	}
}

// WriteFile writes t to path. An unset cfg.Format is detected from the
// extension.
func WriteFile(ctx context.Context, path string, t *table.Table, cfg Config) (err error) {
	if cfg.Format == FormatUnknown {
		cfg.Format = DetectFormat(path)
	}
	if cfg.Format == FormatUnknown {
		return errors.Newf(errors.CodeWrite, "cannot infer output format of %q", path)
	}

	if cfg.Format == FormatDuckDB {
		w, err := NewDuckDBWriter(path, t.Columns, cfg)
		if err != nil {
			return err
		}
		if err := w.WriteTable(ctx, t); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to create output").WithContext("path", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, errors.CodeWrite, "failed to close output").WithContext("path", path)
		}
	}()

	// The buffer also keeps writers that close their sink away from f.
	buf := bufio.NewWriterSize(f, 256*1024)
	w, err := New(buf, t, cfg)
	if err != nil {
		return err
	}
	if err := w.WriteTable(ctx, t); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to flush output").WithContext("path", path)
	}
	return nil
}

// cell returns the value of a table cell with NaN mapped to nil.
func cell(t *table.Table, row int, name string) any {
	v := t.Value(row, name)
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return nil
	}
	return v
}
