package source

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// CSVReader reads delimited files with a header naming a time and a
// marker column. Other columns are ignored.
type CSVReader struct {
	Comma rune
}

// Read implements Reader.
func (c CSVReader) Read(ctx context.Context, r io.Reader) ([]model.Marker, error) {
	cr := csv.NewReader(r)
	if c.Comma != 0 {
		cr.Comma = c.Comma
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to read header")
	}
	timeCol, markerCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "time", "timestamp":
			timeCol = i
		case "marker", "payload":
			markerCol = i
		}
	}
	if timeCol < 0 || markerCol < 0 {
		return nil, errors.Newf(errors.CodeInput, "header %v needs time and marker columns", header)
	}

	var out []model.Marker
	for row := 2; ; row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.ContextCanceled("read markers", err)
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInput, "malformed row").WithContext("row", row)
		}
		if len(rec) <= timeCol || len(rec) <= markerCol {
			return nil, errors.New(errors.CodeInput, "short row").WithContext("row", row)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(rec[timeCol]), 64)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInput, "invalid time").WithContext("row", row)
		}
		out = append(out, model.Marker{Time: t, Payload: rec[markerCol]})
	}
	return out, nil
}
