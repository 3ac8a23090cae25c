package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikkeyboi/custom-neuropype/internal/fixture"
	"github.com/mikkeyboi/custom-neuropype/pkg/engine"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/writer"
)

// sessionFile runs three trials through the engine and writes the table.
func sessionFile(t *testing.T, name string) string {
	t.Helper()
	spec, err := protocol.Preset("saccade-v2")
	require.NoError(t, err)
	eng, err := engine.New(spec)
	require.NoError(t, err)
	res, err := eng.Run(context.Background(), fixture.Simple(3))
	require.NoError(t, err)

	// The format follows the file extension.
	cfg := writer.DefaultConfig()
	cfg.Format = writer.FormatUnknown

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, writer.WriteFile(context.Background(), path, res.Table, cfg))
	return path
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	require.NoError(t, e.Register(ctx, "trials", sessionFile(t, "session.parquet")))

	s, err := e.Summarize(ctx, "trials", DefaultSummaryOptions())
	require.NoError(t, err)

	assert.EqualValues(t, 24, s.Rows)
	assert.EqualValues(t, 3, s.Trials)
	require.Len(t, s.Markers, 8)
	for _, m := range s.Markers {
		assert.EqualValues(t, 3, m.Rows, m.Marker)
		assert.EqualValues(t, 3, m.Trials, m.Marker)
	}
	assert.Equal(t, "Cue", s.Markers[0].Marker)

	require.Len(t, s.Groups, 1)
	g := s.Groups[0]
	assert.Equal(t, "AttendShape", g.Group)
	assert.EqualValues(t, 3, g.Trials)
	assert.InDelta(t, 1.0, g.Accuracy, 1e-9)
	assert.EqualValues(t, 3, g.LatencyCount)
	require.True(t, g.MeanLatency.Valid)
	assert.InDelta(t, fixture.AtInput-fixture.AtFixationOff, g.MeanLatency.Float64, 1e-9)
}

func TestSummarize_MissingGroupColumns(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	require.NoError(t, e.Register(ctx, "trials", sessionFile(t, "session.parquet")))

	opts := DefaultSummaryOptions()
	opts.GroupBy = "Block"
	s, err := e.Summarize(ctx, "trials", opts)
	require.NoError(t, err)
	assert.EqualValues(t, 24, s.Rows)
	assert.Empty(t, s.Groups)
}

func TestRegister_Formats(t *testing.T) {
	ctx := context.Background()

	for _, name := range []string{"session.csv", "session.jsonl", "session.duckdb"} {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t)
			require.NoError(t, e.Register(ctx, "trials", sessionFile(t, name)))

			cols, err := e.Columns(ctx, "trials")
			require.NoError(t, err)
			assert.Equal(t, []string{"Time", "Trial", "Marker"}, cols[:3])

			rows, err := e.Query(ctx, `SELECT COUNT(*) FROM trials WHERE "Marker" = ?`, "Go")
			require.NoError(t, err)
			require.Len(t, rows.Values, 1)
			assert.EqualValues(t, 3, rows.Values[0][0])
		})
	}
}

func TestSummarize_JSONL(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	require.NoError(t, e.Register(ctx, "trials", sessionFile(t, "session.jsonl")))

	s, err := e.Summarize(ctx, "trials", DefaultSummaryOptions())
	require.NoError(t, err)
	assert.EqualValues(t, 24, s.Rows)
	assert.EqualValues(t, 3, s.Trials)

	require.Len(t, s.Groups, 1)
	g := s.Groups[0]
	assert.Equal(t, "AttendShape", g.Group)
	assert.InDelta(t, 1.0, g.Accuracy, 1e-9)
	require.True(t, g.MeanLatency.Valid)
	assert.InDelta(t, fixture.AtInput-fixture.AtFixationOff, g.MeanLatency.Float64, 1e-9)

	// Null delays keep a numeric column.
	rows, err := e.Query(ctx, `SELECT COUNT(*) FROM trials WHERE "CountermandingDelay" IS NULL`)
	require.NoError(t, err)
	assert.EqualValues(t, 24, rows.Values[0][0])
}

func TestRegister_JSONLErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{\"Time\": 1}\nTime=2\n"},
		{"nested value", `{"Time": 1, "Fields": {"a": 1}}` + "\n"},
		{"no rows", "\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.jsonl")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			err := newEngine(t).Register(context.Background(), "trials", path)
			assert.True(t, errors.IsCode(err, errors.CodeInput), "got %v", err)
		})
	}
}

func TestRegister_UnknownFormat(t *testing.T) {
	err := newEngine(t).Register(context.Background(), "trials", "session.h5")
	assert.True(t, errors.IsCode(err, errors.CodeInput))
}

func TestQuery_Invalid(t *testing.T) {
	_, err := newEngine(t).Query(context.Background(), "SELECT * FROM nowhere")
	assert.True(t, errors.IsCode(err, errors.CodeInput))
}
