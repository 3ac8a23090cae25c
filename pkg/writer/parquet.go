package writer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

// ParquetWriter writes tables to Parquet through Apache Arrow.
type ParquetWriter struct {
	cfg     Config
	columns []protocol.Column

	allocator memory.Allocator
	schema    *arrow.Schema
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder

	mu               sync.Mutex
	rowCount         int
	totalRowsWritten int64
	closed           bool
}

// Schema returns the Arrow schema for a table's columns. Only the time,
// trial and marker columns are non-nullable.
func Schema(columns []protocol.Column, metadata map[string]string) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     arrowType(c.Type),
			Nullable: i >= 3,
		}
	}
	if len(metadata) == 0 {
		return arrow.NewSchema(fields, nil)
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = metadata[k]
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(fields, &md)
}

func arrowType(t protocol.FieldType) arrow.DataType {
	switch t {
	case protocol.TypeInt:
		return arrow.PrimitiveTypes.Int64
	case protocol.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case protocol.TypeBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

func codecFor(c CompressionType) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionLZ4:
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

// NewParquetWriter creates a Parquet writer for the given columns.
func NewParquetWriter(output io.Writer, columns []protocol.Column, cfg Config) (*ParquetWriter, error) {
	allocator := memory.NewGoAllocator()
	schema := Schema(columns, cfg.Metadata)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codecFor(cfg.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithCreatedBy("trialflow"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to create parquet writer")
	}

	return &ParquetWriter{
		cfg:       cfg,
		columns:   columns,
		allocator: allocator,
		schema:    schema,
		writer:    writer,
		builder:   array.NewRecordBuilder(allocator, schema),
	}, nil
}

// WriteTable implements Writer.
func (w *ParquetWriter) WriteTable(ctx context.Context, t *table.Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New(errors.CodeWrite, "parquet writer is closed")
	}
	if len(t.Columns) != len(w.columns) {
		return errors.Newf(errors.CodeWrite, "table has %d columns, writer expects %d", len(t.Columns), len(w.columns))
	}

	for row := 0; row < t.Len(); row++ {
		if row%w.cfg.BatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return errors.ContextCanceled("write parquet", err)
			}
		}
		for i, c := range w.columns {
			if err := appendValue(w.builder.Field(i), cell(t, row, c.Name)); err != nil {
				return errors.Wrap(err, errors.CodeWrite, "failed to append value").
					WithContext("row", row).
					WithContext("column", c.Name)
			}
		}
		w.rowCount++
		if w.rowCount >= w.cfg.BatchSize {
			if err := w.flushBatch(); err != nil {
				return err
			}
		}
	}
	return nil
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		switch x := v.(type) {
		case int:
			bb.Append(int64(x))
		case int64:
			bb.Append(x)
		default:
			return fmt.Errorf("want int, got %T", v)
		}
	case *array.Float64Builder:
		x, ok := v.(float64)
		if !ok {
			return fmt.Errorf("want float, got %T", v)
		}
		bb.Append(x)
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		bb.Append(x)
	case *array.StringBuilder:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		bb.Append(x)
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

// flushBatch writes the current batch to Parquet.
func (w *ParquetWriter) flushBatch() error {
	if w.rowCount == 0 {
		return nil
	}

	batch := w.builder.NewRecord()
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to write record batch")
	}

	w.totalRowsWritten += int64(w.rowCount)
	w.rowCount = 0
	return nil
}

// Close flushes remaining rows and writes the Parquet footer.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	defer w.builder.Release()

	if err := w.flushBatch(); err != nil {
		w.writer.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to close parquet writer")
	}
	return nil
}

// RowsWritten returns the total number of rows written.
func (w *ParquetWriter) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRowsWritten
}
