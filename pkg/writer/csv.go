package writer

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

// CSVWriter writes tables as comma-separated text with a header row.
// NaN floats are written as "NaN".
type CSVWriter struct {
	columns []protocol.Column
	w       *csv.Writer
	header  bool
}

// NewCSVWriter creates a CSV writer.
func NewCSVWriter(out io.Writer, columns []protocol.Column) *CSVWriter {
	return &CSVWriter{columns: columns, w: csv.NewWriter(out)}
}

// WriteTable implements Writer.
func (c *CSVWriter) WriteTable(ctx context.Context, t *table.Table) error {
	if !c.header {
		names := make([]string, len(c.columns))
		for i, col := range c.columns {
			names[i] = col.Name
		}
		if err := c.w.Write(names); err != nil {
			return errors.Wrap(err, errors.CodeWrite, "failed to write csv header")
		}
		c.header = true
	}

	rec := make([]string, len(c.columns))
	for row := 0; row < t.Len(); row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return errors.ContextCanceled("write csv", err)
			}
		}
		for i, col := range c.columns {
			rec[i] = formatText(t.Value(row, col.Name))
		}
		if err := c.w.Write(rec); err != nil {
			return errors.Wrap(err, errors.CodeWrite, "failed to write csv row").WithContext("row", row)
		}
	}
	return nil
}

// Close implements Writer.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to flush csv")
	}
	return nil
}

// formatText renders a cell as text. Floats use the shortest exact form
// so output is stable across runs.
func formatText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) {
			return "NaN"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
