package writer

import (
	"context"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

const (
	sheetMarkers  = "markers"
	sheetMetadata = "metadata"
)

// XLSXWriter writes tables to an Excel workbook. Rows go to the
// "markers" sheet; metadata, if any, to a "metadata" sheet. NaN cells
// are left empty. The workbook is written to out on Close.
type XLSXWriter struct {
	out      io.Writer
	columns  []protocol.Column
	metadata map[string]string

	file   *excelize.File
	stream *excelize.StreamWriter
	row    int
	closed bool
}

// NewXLSXWriter creates an XLSX writer and writes the header row.
func NewXLSXWriter(out io.Writer, columns []protocol.Column, metadata map[string]string) (*XLSXWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetMarkers); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to name sheet")
	}
	sw, err := f.NewStreamWriter(sheetMarkers)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to create stream writer")
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.CodeWrite, "failed to write header")
	}

	return &XLSXWriter{
		out:      out,
		columns:  columns,
		metadata: metadata,
		file:     f,
		stream:   sw,
		row:      1,
	}, nil
}

// WriteTable implements Writer.
func (x *XLSXWriter) WriteTable(ctx context.Context, t *table.Table) error {
	values := make([]interface{}, len(x.columns))
	for r := 0; r < t.Len(); r++ {
		if r%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return errors.ContextCanceled("write xlsx", err)
			}
		}
		for i, c := range x.columns {
			values[i] = cell(t, r, c.Name)
		}
		x.row++
		ref, err := excelize.CoordinatesToCellName(1, x.row)
		if err != nil {
			return errors.Wrap(err, errors.CodeWrite, "bad cell reference")
		}
		if err := x.stream.SetRow(ref, values); err != nil {
			return errors.Wrap(err, errors.CodeWrite, "failed to write row").WithContext("row", r)
		}
	}
	return nil
}

// Close finalizes the workbook and writes it to the output.
func (x *XLSXWriter) Close() error {
	if x.closed {
		return nil
	}
	x.closed = true
	defer x.file.Close()

	if err := x.stream.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to flush rows")
	}
	if err := x.writeMetadata(); err != nil {
		return err
	}
	if _, err := x.file.WriteTo(x.out); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to write workbook")
	}
	return nil
}

func (x *XLSXWriter) writeMetadata() error {
	if len(x.metadata) == 0 {
		return nil
	}
	if _, err := x.file.NewSheet(sheetMetadata); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to add metadata sheet")
	}
	keys := make([]string, 0, len(x.metadata))
	for k := range x.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		ref, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := x.file.SetSheetRow(sheetMetadata, ref, &[]interface{}{k, x.metadata[k]}); err != nil {
			return errors.Wrap(err, errors.CodeWrite, "failed to write metadata")
		}
	}
	return nil
}
