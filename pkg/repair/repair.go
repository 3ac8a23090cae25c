// Package repair corrects the controller's duplicated terminal-phase
// records.
//
// Some controller releases log the Feedback TrialState once prematurely,
// sometimes with the wrong isCorrect, and then again once the outcome is
// settled. If no corrected copy follows (the trial was aborted by an
// early response), the premature record is the only terminal record the
// trial gets and must be kept. Repairer buffers the first terminal record
// until the next TrialState decides which case applies.
package repair

import (
	"go.uber.org/zap"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

// State of the repair machine.
type State int

const (
	// Normal passes events through.
	Normal State = iota
	// PendingDup holds a terminal record awaiting resolution.
	PendingDup
)

func (s State) String() string {
	if s == PendingDup {
		return "PENDING_DUP"
	}
	return "NORMAL"
}

// Report counts what the machine did to a stream.
type Report struct {
	Discarded   int
	Promoted    int
	Synthesized int
	Incomplete  bool
}

// Repairer is the terminal-record repair state machine. The zero value
// is not usable; create one with New.
type Repairer struct {
	policy     protocol.RepairPolicy
	terminal   int
	intertrial int
	logger     *zap.Logger

	state    State
	pending  model.RawEvent
	buffered []model.RawEvent
	report   Report
}

// New creates a Repairer for spec. spec must be validated.
func New(spec *protocol.Spec, logger *zap.Logger) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repairer{
		policy:     spec.Repair,
		terminal:   spec.Terminal(),
		intertrial: spec.Intertrial(),
		logger:     logger,
	}
}

// State returns the current state.
func (r *Repairer) State() State {
	return r.state
}

// Report returns the running counts.
func (r *Repairer) Report() Report {
	return r.report
}

// Push feeds one event and returns the events released by it, in
// output order.
func (r *Repairer) Push(ev model.RawEvent) []model.RawEvent {
	if !r.policy.Enabled {
		return []model.RawEvent{ev}
	}

	switch r.state {
	case Normal:
		if ev.IsPhase(r.terminal) {
			r.state = PendingDup
			r.pending = ev
			r.buffered = r.buffered[:0]
			return nil
		}
		return []model.RawEvent{ev}

	case PendingDup:
		if ev.Kind != model.KindTrialState {
			r.buffered = append(r.buffered, ev)
			return nil
		}
		return r.Resolve(ev)
	}
	return []model.RawEvent{ev}
}

// Resolve settles the pending terminal record against the TrialState ev
// and returns to Normal. Calling it in Normal state just returns ev.
func (r *Repairer) Resolve(ev model.RawEvent) []model.RawEvent {
	if r.state != PendingDup {
		return []model.RawEvent{ev}
	}

	out := make([]model.RawEvent, 0, len(r.buffered)+3)

	if r.policy.DuplicateWhen.IsDuplicate(ev.State, r.terminal) {
		r.report.Discarded++
		r.logger.Debug("discarding stale terminal record",
			zap.Int("marker", r.pending.Seq),
			zap.Int("replacement", ev.Seq))
		out = append(out, r.buffered...)
		out = append(out, ev)
		r.reset()
		return out
	}

	promoted := r.pending.CloneState()
	promoted.State.IsCorrect = false
	promoted.State.Fields["isCorrect"] = false
	if r.policy.EarlyOutcome != "" {
		promoted.State.Outcome = r.policy.EarlyOutcome
		promoted.State.Fields["outcome"] = r.policy.EarlyOutcome
	}
	r.report.Promoted++
	r.logger.Debug("promoting terminal record of aborted trial",
		zap.Int("marker", promoted.Seq),
		zap.Int("trial", promoted.State.TrialIndex))

	out = append(out, promoted)
	out = append(out, r.buffered...)

	if r.policy.ReinsertIntertrial && !ev.IsPhase(r.intertrial) {
		start := ev.CloneState()
		start.State.Phase = r.intertrial
		start.State.Fields["trialPhaseIndex"] = r.intertrial
		start.Synthetic = true
		out = append(out, start)
		r.report.Synthesized++
	}

	out = append(out, ev)
	r.reset()
	return out
}

// Flush ends the stream. A record still pending is released as-is,
// followed by the events buffered behind it, and a RepairIncomplete
// warning is returned.
func (r *Repairer) Flush() ([]model.RawEvent, error) {
	if r.state != PendingDup {
		return nil, nil
	}
	out := make([]model.RawEvent, 0, len(r.buffered)+1)
	out = append(out, r.pending)
	out = append(out, r.buffered...)
	seq := r.pending.Seq
	r.report.Incomplete = true
	r.reset()
	return out, errors.RepairIncomplete(seq)
}

func (r *Repairer) reset() {
	r.state = Normal
	r.pending = model.RawEvent{}
	r.buffered = nil
}

// Repair runs a whole stream through a fresh Repairer. The returned
// error, if any, is the non-fatal RepairIncomplete warning.
func Repair(spec *protocol.Spec, events []model.RawEvent, logger *zap.Logger) ([]model.RawEvent, Report, error) {
	r := New(spec, logger)
	out := make([]model.RawEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, r.Push(ev)...)
	}
	tail, err := r.Flush()
	out = append(out, tail...)
	return out, r.Report(), err
}
