// Package source reads marker streams from disk.
//
// A recording is a sequence of (time, payload) pairs. Two layouts are
// supported: JSONL with one {"time": ..., "marker": ...} object per line,
// and CSV/TSV with a time,marker header.
package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// Format represents a supported marker file layout.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSONL
	FormatCSV
	FormatTSV
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatCSV:
		return "csv"
	case FormatTSV:
		return "tsv"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format string.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "jsonl", "ndjson", "json":
		return FormatJSONL
	case "csv":
		return FormatCSV
	case "tsv", "tab":
		return FormatTSV
	default:
		return FormatUnknown
	}
}

// DetectFormat picks a format from a file extension.
func DetectFormat(path string) Format {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return ParseFormat(ext)
}

// Reader decodes one recording.
type Reader interface {
	Read(ctx context.Context, r io.Reader) ([]model.Marker, error)
}

// ReaderFor returns the reader for a format.
func ReaderFor(f Format) (Reader, error) {
	switch f {
	case FormatJSONL:
		return JSONLReader{}, nil
	case FormatCSV:
		return CSVReader{Comma: ','}, nil
	case FormatTSV:
		return CSVReader{Comma: '\t'}, nil
	default:
		return nil, errors.Newf(errors.CodeInput, "unsupported marker format %q", f)
	}
}

// Open reads every marker from one file, detecting its format by
// extension.
func Open(ctx context.Context, path string) ([]model.Marker, error) {
	return OpenFormat(ctx, path, DetectFormat(path))
}

// OpenFormat reads every marker from one file in the given format.
func OpenFormat(ctx context.Context, path string, f Format) ([]model.Marker, error) {
	rd, err := ReaderFor(f)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to open markers").
			WithContext("path", path)
	}
	defer file.Close()

	markers, err := rd.Read(ctx, file)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return nil, e.WithContext("path", path)
		}
		return nil, errors.Wrap(err, errors.CodeInput, "failed to read markers").
			WithContext("path", path)
	}
	return markers, nil
}

// ReadAll concatenates the recordings at paths in argument order. The
// trial index restarts in each recording; segmentation unwraps it.
func ReadAll(ctx context.Context, paths ...string) ([]model.Marker, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.CodeInput, "no input files")
	}
	var all []model.Marker
	for _, p := range paths {
		markers, err := Open(ctx, p)
		if err != nil {
			return nil, err
		}
		all = append(all, markers...)
	}
	return all, nil
}
