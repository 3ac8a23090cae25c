package writer

import (
	"bufio"
	"context"
	"io"

	json "github.com/goccy/go-json"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

// JSONLWriter writes one JSON object per row with keys in column order.
// NaN floats are written as null.
type JSONLWriter struct {
	columns []protocol.Column
	keys    [][]byte
	w       *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(out io.Writer, columns []protocol.Column) *JSONLWriter {
	keys := make([][]byte, len(columns))
	for i, c := range columns {
		k, _ := json.Marshal(c.Name)
		keys[i] = k
	}
	return &JSONLWriter{columns: columns, keys: keys, w: bufio.NewWriter(out)}
}

// WriteTable implements Writer.
func (j *JSONLWriter) WriteTable(ctx context.Context, t *table.Table) error {
	for row := 0; row < t.Len(); row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return errors.ContextCanceled("write jsonl", err)
			}
		}
		j.w.WriteByte('{')
		for i, c := range j.columns {
			if i > 0 {
				j.w.WriteByte(',')
			}
			j.w.Write(j.keys[i])
			j.w.WriteByte(':')
			v, err := json.Marshal(cell(t, row, c.Name))
			if err != nil {
				return errors.Wrap(err, errors.CodeWrite, "failed to encode value").
					WithContext("row", row).
					WithContext("column", c.Name)
			}
			j.w.Write(v)
		}
		if _, err := j.w.WriteString("}\n"); err != nil {
			return errors.Wrap(err, errors.CodeWrite, "failed to write row").WithContext("row", row)
		}
	}
	return nil
}

// Close implements Writer.
func (j *JSONLWriter) Close() error {
	if err := j.w.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to flush jsonl")
	}
	return nil
}
