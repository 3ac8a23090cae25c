package engine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mikkeyboi/custom-neuropype/internal/fixture"
	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

func newEngine(t *testing.T, name string, opts ...Option) *Engine {
	t.Helper()
	spec, err := protocol.Preset(name)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	eng, err := New(spec, opts...)
	require.NoError(t, err)
	return eng
}

func run(t *testing.T, eng *Engine, markers []model.Marker) *Result {
	t.Helper()
	res, err := eng.Run(context.Background(), markers)
	require.NoError(t, err)
	return res
}

// assertWellFormed checks properties every table must have.
func assertWellFormed(t *testing.T, tbl *table.Table) {
	t.Helper()
	trials := make(map[int]bool)
	for i, r := range tbl.Rows {
		if i > 0 {
			assert.GreaterOrEqual(t, r.TrialIndex, tbl.Rows[i-1].TrialIndex, "row %d", i)
		}
		trials[r.TrialIndex] = true
		for _, c := range tbl.Columns[3:] {
			assert.Contains(t, r.Fields, c.Name, "row %d", i)
		}
	}
	assert.Len(t, tbl.Trials(), len(trials))
}

func TestRun_Session(t *testing.T) {
	eng := newEngine(t, "saccade-v2")
	res := run(t, eng, fixture.Simple(3))

	s := res.Summary
	assert.Equal(t, "saccade-v2", s.Protocol)
	assert.Equal(t, 3, s.Trials)
	assert.Equal(t, 3, s.Emitted)
	assert.Equal(t, 24, s.Rows)
	assert.Equal(t, 3, s.Discarded)
	assert.Zero(t, s.Promoted)
	assert.Zero(t, s.Dropped)
	assert.False(t, s.RepairIncomplete)
	assert.Empty(t, s.Skipped)
	assert.Empty(t, s.MissingPhases)

	tbl := res.Table
	assertWellFormed(t, tbl)
	assert.Equal(t, []int{1, 2, 3}, tbl.Trials())
	assert.Equal(t, "Intertrial", tbl.Value(8, "Marker"))
	assert.Equal(t, 2, tbl.Value(8, "Trial"))
	assert.InDelta(t, 4+fixture.AtIntertrial, tbl.Value(8, "Time"), 1e-9)
	assert.Equal(t, true, tbl.Value(8, "IsCorrect"))
}

func TestRun_Idempotent(t *testing.T) {
	markers := fixture.Session(
		fixture.Trial{Index: 1},
		fixture.Trial{Index: 2, Start: 4, Abort: true},
		fixture.Trial{Index: 3, Start: 8, NoGoObject: true},
	)

	a := run(t, newEngine(t, "saccade-v2"), markers)
	b := run(t, newEngine(t, "saccade-v2"), markers)

	assert.Equal(t, a.Summary.RunID, b.Summary.RunID)
	if diff := cmp.Diff(a.Table, b.Table, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("tables differ between runs (-first +second):\n%s", diff)
	}

	c := run(t, newEngine(t, "saccade-v1"), markers)
	assert.NotEqual(t, a.Summary.RunID, c.Summary.RunID)
}

func TestRun_ConcatenatedRecordings(t *testing.T) {
	first := fixture.Session(
		fixture.Trial{Index: 1},
		fixture.Trial{Index: 2, Start: 4},
		fixture.Trial{Index: 3, Start: 8},
	)
	second := fixture.Session(
		fixture.Trial{Index: 1, Start: 20},
		fixture.Trial{Index: 2, Start: 24},
	)

	res := run(t, newEngine(t, "saccade-v2"), append(first, second...))
	assertWellFormed(t, res.Table)

	// The second recording's leading placement object opens trial 4,
	// which has no TrialState; its trials continue at 5.
	assert.Equal(t, []int{1, 2, 3, 5, 6}, res.Table.Trials())
	assert.Equal(t, []Skip{{Trial: 4, Reason: "no TrialState"}}, res.Summary.Skipped)

	for i := range res.Table.Rows {
		if res.Table.Rows[i].TrialIndex == 5 {
			assert.Equal(t, 1, res.Table.Value(i, "UnityTrialIndex"))
			break
		}
	}
}

func TestRun_EarlyAbort(t *testing.T) {
	res := run(t, newEngine(t, "saccade-v2"), fixture.Session(
		fixture.Trial{Index: 1},
		fixture.Trial{Index: 2, Start: 4, Abort: true},
		fixture.Trial{Index: 3, Start: 8},
	))

	s := res.Summary
	assert.Equal(t, 1, s.Promoted)
	assert.Equal(t, 2, s.Discarded)
	assert.Equal(t, 3, s.Emitted)
	assert.Equal(t, map[string]int{"Response": 1}, s.MissingPhases)

	var markers []string
	for i, r := range res.Table.Rows {
		if r.TrialIndex != 2 {
			continue
		}
		markers = append(markers, r.Marker)
		assert.Equal(t, false, res.Table.Value(i, "IsCorrect"))
	}
	assert.Equal(t, []string{"Intertrial", "Fixate", "Cue", "Delay", "Target", "Go", "Feedback"}, markers)
}

func TestRun_RepairIncomplete(t *testing.T) {
	res := run(t, newEngine(t, "saccade-v2"), fixture.Session(
		fixture.Trial{Index: 1},
		fixture.Trial{Index: 2, Start: 4, Abort: true},
	))

	assert.True(t, res.Summary.RepairIncomplete)
	assert.Equal(t, 2, res.Summary.Emitted)
	assert.Equal(t, []int{1, 2}, res.Table.Trials())
}

func TestRun_TaskSwitchReinsert(t *testing.T) {
	markers := fixture.Session(
		fixture.Trial{Index: 1},
		fixture.Trial{Index: 2, Start: 4, Abort: true},
	)
	// Trial 3 skips Intertrial after the abort.
	for _, m := range (fixture.Trial{Index: 3, Start: 8}).Markers() {
		if m.Payload == fixture.State(8+fixture.AtIntertrial, 3, fixture.Intertrial, nil).Payload {
			continue
		}
		markers = append(markers, m)
	}

	res := run(t, newEngine(t, "taskswitch"), markers)
	assert.Equal(t, 1, res.Summary.Synthesized)
	assert.Empty(t, res.Summary.MissingPhases["Intertrial"])

	for i, r := range res.Table.Rows {
		if r.TrialIndex == 3 && r.Marker == "Intertrial" {
			assert.InDelta(t, 8+fixture.AtFixate, res.Table.Value(i, "Time"), 1e-9)
			return
		}
	}
	t.Fatal("trial 3 has no Intertrial row")
}

func TestRun_DecodeModes(t *testing.T) {
	markers := append(fixture.Simple(2), model.Marker{Time: 99, Payload: `{"TrialState":`})

	t.Run("lenient", func(t *testing.T) {
		q := errors.NewCollector(0)
		res := run(t, newEngine(t, "saccade-v2", WithQuarantine(q)), markers)
		assert.Equal(t, 1, res.Summary.Dropped)
		assert.Equal(t, 2, res.Summary.Emitted)
		require.Len(t, q.Records(), 1)
		assert.Equal(t, errors.CodeDecode, q.Records()[0].Code)
	})

	t.Run("strict", func(t *testing.T) {
		_, err := newEngine(t, "saccade-v2", WithStrict(true)).Run(context.Background(), markers)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeDecode))
	})
}

func TestRun_ConfigurationErrors(t *testing.T) {
	markers := fixture.Session(
		fixture.Trial{Index: 1},
		fixture.Trial{Index: 2, Start: 4, Details: map[string]any{"taskType": 7}},
		fixture.Trial{Index: 3, Start: 8},
	)

	t.Run("skip", func(t *testing.T) {
		q := errors.NewCollector(0)
		res := run(t, newEngine(t, "saccade-v2", WithQuarantine(q)), markers)

		assert.Equal(t, 1, res.Summary.ConfigErrors)
		assert.Equal(t, []Skip{{Trial: 2, Reason: "configuration error"}}, res.Summary.Skipped)
		assert.Equal(t, []int{1, 3}, res.Table.Trials())

		recs := q.Records()
		require.Len(t, recs, 1)
		assert.Equal(t, 2, recs[0].Trial)
		assert.Equal(t, errors.CodeConfig, recs[0].Code)
		assert.InDelta(t, 4+fixture.AtPlace, recs[0].Time, 1e-9)
	})

	t.Run("fail", func(t *testing.T) {
		_, err := newEngine(t, "saccade-v2", WithFailOnConfigError(true)).Run(context.Background(), markers)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeConfig))
	})
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(t, "saccade-v2").Run(ctx, fixture.Simple(1))
	assert.True(t, errors.IsCode(err, errors.CodeContextCanceled))
}

func TestRunID(t *testing.T) {
	markers := fixture.Simple(1)
	id := RunID("saccade-v2", markers)
	assert.Equal(t, id, RunID("saccade-v2", markers))

	shifted := append([]model.Marker(nil), markers...)
	shifted[0].Time += 1e-6
	assert.NotEqual(t, id, RunID("saccade-v2", shifted))

	eng := newEngine(t, "saccade-v2", WithRunID(func([]model.Marker) string { return "fixed" }))
	assert.Equal(t, "fixed", run(t, eng, markers).Summary.RunID)
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))

	_, err = New(&protocol.Spec{Name: "empty"})
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}
