package errors

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// Record describes one quarantined marker or trial.
type Record struct {
	Seq     int     `json:"seq"`
	Time    float64 `json:"time"`
	Trial   int     `json:"trial,omitempty"`
	Payload string  `json:"payload,omitempty"`
	Code    Code    `json:"code"`
	Message string  `json:"message"`
}

// RecordFrom builds a Record from an error, keeping its code.
func RecordFrom(seq int, t float64, payload string, err error) Record {
	return Record{
		Seq:     seq,
		Time:    t,
		Payload: payload,
		Code:    GetCode(err),
		Message: err.Error(),
	}
}

// Format is the on-disk format of a quarantine stream.
type Format int

const (
	FormatCSV Format = iota
	FormatJSONL
)

// FormatForPath picks JSONL for .jsonl/.json paths and CSV otherwise.
func FormatForPath(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".jsonl") || strings.HasSuffix(lower, ".json") {
		return FormatJSONL
	}
	return FormatCSV
}

// Stream persists quarantine records to a file.
type Stream struct {
	mu sync.Mutex

	path    string
	format  Format
	file    *os.File
	writer  *csv.Writer
	encoder *json.Encoder

	count int64
}

// NewStream creates a quarantine stream; call Open before writing.
func NewStream(path string, format Format) *Stream {
	return &Stream{
		path:   path,
		format: format,
	}
}

// Open creates the output file and writes the CSV header.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.path)
	if err != nil {
		return Wrapf(err, CodeWrite, "failed to create quarantine file %s", s.path)
	}
	s.file = f

	switch s.format {
	case FormatCSV:
		s.writer = csv.NewWriter(f)
		return s.writer.Write([]string{"seq", "time", "trial", "code", "message", "payload"})
	case FormatJSONL:
		s.encoder = json.NewEncoder(f)
	}
	return nil
}

// Write writes a single record.
func (s *Stream) Write(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++

	switch s.format {
	case FormatCSV:
		return s.writer.Write([]string{
			strconv.Itoa(r.Seq),
			strconv.FormatFloat(r.Time, 'f', -1, 64),
			strconv.Itoa(r.Trial),
			string(r.Code),
			r.Message,
			r.Payload,
		})
	case FormatJSONL:
		return s.encoder.Encode(r)
	}
	return fmt.Errorf("unknown quarantine format %d", s.format)
}

// Flush flushes any buffered data.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.Flush()
		return s.writer.Error()
	}
	return nil
}

// Close closes the stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.Flush()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Count returns the number of records written.
func (s *Stream) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Collector keeps quarantine records in memory until a run finishes.
type Collector struct {
	mu      sync.Mutex
	records []Record
	limit   int
	dropped int
}

// NewCollector creates a collector; limit <= 0 means unbounded.
func NewCollector(limit int) *Collector {
	return &Collector{limit: limit}
}

// Add adds a record, silently counting it if the collector is full.
func (c *Collector) Add(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit > 0 && len(c.records) >= c.limit {
		c.dropped++
		return
	}
	c.records = append(c.records, r)
}

// Records returns a copy of the collected records.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Count returns the number of records seen, including overflow.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records) + c.dropped
}

// WriteTo writes all records to a stream and flushes it.
func (c *Collector) WriteTo(ctx context.Context, stream *Stream) error {
	for _, r := range c.Records() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Write(r); err != nil {
			return err
		}
	}
	return stream.Flush()
}
