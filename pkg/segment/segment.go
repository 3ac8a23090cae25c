// Package segment partitions a repaired event stream into trials.
package segment

import (
	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

// Assign gives every event a trial index.
//
// TrialState records carry their own index. Everything else inherits the
// last one seen, except that the first ObjectInfo after a terminal-phase
// record opens the next trial: the controller places the next trial's
// objects before it logs that trial's first TrialState.
func Assign(spec *protocol.Spec, events []model.RawEvent) []int {
	terminal := spec.Terminal()

	out := make([]int, len(events))
	lastIndex := 0
	lastPhase := terminal
	bumped := false

	for i, ev := range events {
		switch ev.Kind {
		case model.KindTrialState:
			lastPhase = ev.State.Phase
			lastIndex = ev.State.TrialIndex
			bumped = false
		case model.KindObjectInfo:
			if lastPhase == terminal && !bumped {
				lastIndex++
				bumped = true
			}
		case model.KindInput, model.KindCameraRecenter, model.KindUnknown:
		}
		out[i] = lastIndex
	}
	return out
}

// Unwrap removes the resets caused by concatenating recordings. At every
// drop the value just before it is added to all later indices, repeating
// until the sequence is non-decreasing. The input is not modified.
func Unwrap(indices []int) []int {
	out := make([]int, len(indices))
	copy(out, indices)

	offset := 0
	for i := range out {
		v := indices[i] + offset
		if i > 0 {
			prev := out[i-1]
			for v < prev {
				step := prev
				if step <= 0 {
					step = prev - v
				}
				offset += step
				v += step
			}
		}
		out[i] = v
	}
	return out
}

// Split groups events into trials by their (unwrapped) indices.
// indices must be non-decreasing and aligned with events.
func Split(events []model.RawEvent, indices []int) []model.Trial {
	var trials []model.Trial
	for i, ev := range events {
		if len(trials) == 0 || trials[len(trials)-1].Index != indices[i] {
			trials = append(trials, model.Trial{Index: indices[i]})
		}
		t := &trials[len(trials)-1]
		t.Events = append(t.Events, ev)
	}
	return trials
}

// Segment runs Assign, Unwrap and Split.
func Segment(spec *protocol.Spec, events []model.RawEvent) []model.Trial {
	return Split(events, Unwrap(Assign(spec, events)))
}
