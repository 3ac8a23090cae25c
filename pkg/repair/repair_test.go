package repair

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

func preset(t *testing.T, name string) *protocol.Spec {
	t.Helper()
	spec, err := protocol.Preset(name)
	require.NoError(t, err)
	return spec
}

func state(seq, trial, phase int, correct bool, outcome string) model.RawEvent {
	return model.RawEvent{
		Seq:  seq,
		Time: float64(seq),
		Kind: model.KindTrialState,
		State: &model.TrialState{
			TrialIndex: trial,
			Phase:      phase,
			IsCorrect:  correct,
			Outcome:    outcome,
			Fields: map[string]any{
				"trialIndex":      trial,
				"trialPhaseIndex": phase,
				"isCorrect":       correct,
				"outcome":         outcome,
			},
		},
	}
}

func input(seq int) model.RawEvent {
	return model.RawEvent{
		Seq:   seq,
		Time:  float64(seq),
		Kind:  model.KindInput,
		Input: &model.Input{SelectedObjectClass: "Target"},
	}
}

func object(seq int) model.RawEvent {
	return model.RawEvent{
		Seq:    seq,
		Time:   float64(seq),
		Kind:   model.KindObjectInfo,
		Object: &model.ObjectInfo{Identity: "Target"},
	}
}

func seqs(events []model.RawEvent) []int {
	out := make([]int, len(events))
	for i, ev := range events {
		out[i] = ev.Seq
	}
	return out
}

func TestRepair_DuplicateDiscarded(t *testing.T) {
	tests := []struct {
		name    string
		preset  string
		outcome string
	}{
		{"v1 good trial", "saccade-v1", "Good trial"},
		{"v2 good trial", "saccade-v2", "Good trial"},
		{"v2 wrong target", "saccade-v2", "Wrong target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := preset(t, tt.preset)
			in := []model.RawEvent{
				state(0, 1, 8, false, ""),
				state(1, 1, 9, false, tt.outcome),
				input(2),
				state(3, 1, 9, true, tt.outcome),
			}

			out, rep, err := Repair(spec, in, nil)
			require.NoError(t, err)

			if diff := cmp.Diff([]int{0, 2, 3}, seqs(out)); diff != "" {
				t.Errorf("output order mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, Report{Discarded: 1}, rep)
			assert.True(t, out[2].State.IsCorrect)
		})
	}
}

func TestRepair_V1KeepsNonGoodRepeat(t *testing.T) {
	spec := preset(t, "saccade-v1")
	in := []model.RawEvent{
		state(0, 1, 9, true, "Wrong target"),
		state(1, 1, 9, false, "Wrong target"),
	}

	out, rep, err := Repair(spec, in, nil)
	require.NoError(t, err)

	// Not a duplicate under v1: the first record is promoted and the
	// repeat passes through.
	assert.Equal(t, []int{0, 1}, seqs(out))
	assert.Equal(t, 1, rep.Promoted)
	assert.False(t, out[0].State.IsCorrect)
	assert.Equal(t, "Early response", out[0].State.Outcome)
}

func TestRepair_EarlyAbortPromoted(t *testing.T) {
	spec := preset(t, "saccade-v2")
	pending := state(0, 1, 9, true, "Early response")
	in := []model.RawEvent{
		pending,
		object(1),
		state(2, 2, 1, false, ""),
	}

	out, rep, err := Repair(spec, in, nil)
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, []int{0, 1, 2}, seqs(out))
	assert.Equal(t, Report{Promoted: 1}, rep)

	promoted := out[0].State
	assert.False(t, promoted.IsCorrect)
	assert.Equal(t, "Early response", promoted.Outcome)
	assert.Equal(t, false, promoted.Fields["isCorrect"])

	// The decoded original is untouched.
	assert.True(t, pending.State.IsCorrect)
	assert.Equal(t, true, pending.State.Fields["isCorrect"])

	assert.True(t, out[2].IsPhase(1))
	assert.False(t, out[2].Synthetic)
}

func TestRepair_ReinsertIntertrial(t *testing.T) {
	spec := preset(t, "taskswitch")
	in := []model.RawEvent{
		state(0, 1, 9, true, "Early response"),
		state(1, 2, 2, false, ""),
	}

	out, rep, err := Repair(spec, in, nil)
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, 1, rep.Synthesized)

	start := out[1]
	assert.True(t, start.Synthetic)
	assert.True(t, start.IsPhase(1))
	assert.Equal(t, 2, start.State.TrialIndex)
	assert.Equal(t, 1, start.State.Fields["trialPhaseIndex"])
	assert.Equal(t, in[1].Time, start.Time)

	assert.True(t, out[2].IsPhase(2))
	assert.False(t, out[2].Synthetic)
}

func TestRepair_NoReinsertWhenIntertrialPresent(t *testing.T) {
	spec := preset(t, "taskswitch")
	in := []model.RawEvent{
		state(0, 1, 9, true, "Early response"),
		state(1, 2, 1, false, ""),
	}

	out, rep, err := Repair(spec, in, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Zero(t, rep.Synthesized)
}

func TestRepair_IncompleteAtEndOfStream(t *testing.T) {
	spec := preset(t, "saccade-v2")
	in := []model.RawEvent{
		state(0, 1, 8, false, ""),
		state(1, 1, 9, true, "Good trial"),
		input(2),
		object(3),
	}

	out, rep, err := Repair(spec, in, nil)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeRepairIncomplete))
	assert.False(t, errors.IsFatal(err))
	assert.True(t, rep.Incomplete)

	// Flushed as-is, nothing lost.
	assert.Equal(t, []int{0, 1, 2, 3}, seqs(out))
	assert.True(t, out[1].State.IsCorrect)
}

func TestRepair_Disabled(t *testing.T) {
	spec := preset(t, "saccade-v2")
	spec.Repair.Enabled = false
	in := []model.RawEvent{
		state(0, 1, 9, false, "Good trial"),
		state(1, 1, 9, true, "Good trial"),
	}

	out, rep, err := Repair(spec, in, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seqs(out))
	assert.Equal(t, Report{}, rep)
}

func TestRepairer_States(t *testing.T) {
	spec := preset(t, "saccade-v2")
	r := New(spec, nil)

	assert.Equal(t, Normal, r.State())
	assert.Len(t, r.Push(state(0, 1, 8, false, "")), 1)

	assert.Empty(t, r.Push(state(1, 1, 9, false, "")))
	assert.Equal(t, PendingDup, r.State())
	assert.Equal(t, "PENDING_DUP", r.State().String())

	assert.Empty(t, r.Push(input(2)))
	assert.Empty(t, r.Push(object(3)))
	assert.Equal(t, PendingDup, r.State())

	out := r.Push(state(4, 1, 9, true, "Good trial"))
	assert.Equal(t, []int{2, 3, 4}, seqs(out))
	assert.Equal(t, Normal, r.State())

	tail, err := r.Flush()
	assert.NoError(t, err)
	assert.Empty(t, tail)
}

func TestRepairer_ResolveInNormal(t *testing.T) {
	r := New(preset(t, "saccade-v2"), nil)
	ev := state(0, 1, 2, false, "")
	assert.Equal(t, []model.RawEvent{ev}, r.Resolve(ev))
	assert.Equal(t, Report{}, r.Report())
}
