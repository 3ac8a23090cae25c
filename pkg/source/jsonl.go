package source

import (
	"bufio"
	"bytes"
	"context"
	"io"

	json "github.com/goccy/go-json"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

const maxLine = 4 * 1024 * 1024

// JSONLReader reads newline-delimited {"time": t, "marker": payload}
// objects. The marker may be a JSON string holding the payload or the
// payload object itself.
type JSONLReader struct{}

type jsonlLine struct {
	Time   *float64        `json:"time"`
	Marker json.RawMessage `json:"marker"`
}

// Read implements Reader.
func (JSONLReader) Read(ctx context.Context, r io.Reader) ([]model.Marker, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var out []model.Marker
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.ContextCanceled("read markers", err)
			}
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var l jsonlLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, errors.Wrap(err, errors.CodeInput, "invalid marker line").
				WithContext("line", lineNo)
		}
		if l.Time == nil || len(l.Marker) == 0 {
			return nil, errors.New(errors.CodeInput, "marker line needs time and marker").
				WithContext("line", lineNo)
		}

		payload := string(l.Marker)
		if l.Marker[0] == '"' {
			var s string
			if err := json.Unmarshal(l.Marker, &s); err != nil {
				return nil, errors.Wrap(err, errors.CodeInput, "invalid marker string").
					WithContext("line", lineNo)
			}
			payload = s
		}
		out = append(out, model.Marker{Time: *l.Time, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to scan markers")
	}
	return out, nil
}
