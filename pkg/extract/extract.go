// Package extract derives the canonical per-trial events.
//
// For each trial the extractor reads metadata from the terminal record
// and walks the protocol's rules in order. Each rule names a phase and
// how to time it: by default the first TrialState at that phase, or
// preferably a matching ObjectInfo or Input event, falling back to the
// phase boundary when none matches.
package extract

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

// Outcome is what happened to one trial.
type Outcome int

const (
	Emitted Outcome = iota
	SkippedNoState
	SkippedNoTerminal
	SkippedConfig
)

func (o Outcome) String() string {
	switch o {
	case Emitted:
		return "emitted"
	case SkippedNoState:
		return "no TrialState"
	case SkippedNoTerminal:
		return "no terminal phase"
	case SkippedConfig:
		return "configuration error"
	default:
		return "unknown"
	}
}

// Result is the extraction of one trial.
type Result struct {
	Rows    []model.DerivedEvent
	Outcome Outcome

	// Missing lists rule phases that could not be located.
	Missing []string
}

// Extractor applies a protocol's rules to trials.
type Extractor struct {
	spec   *protocol.Spec
	logger *zap.Logger

	terminal  int
	reference string
}

// New creates an Extractor. spec must be validated.
func New(spec *protocol.Spec, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		spec:      spec,
		logger:    logger,
		terminal:  spec.Terminal(),
		reference: spec.DelayReference,
	}
}

// Extract derives the rows of one trial. The error is non-nil only for
// a ConfigurationError, in which case the trial yields no rows.
func (x *Extractor) Extract(t model.Trial) (Result, error) {
	if !t.HasKind(model.KindTrialState) {
		return Result{Outcome: SkippedNoState}, nil
	}
	fb, ok := t.FirstPhase(x.terminal)
	if !ok {
		return Result{Outcome: SkippedNoTerminal}, nil
	}

	details, err := Details(x.spec, t.Events[fb].State)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithContext("trial", t.Index)
		}
		return Result{Outcome: SkippedConfig}, err
	}

	res := Result{Outcome: Emitted}
	located := make(map[string]float64, len(x.spec.Rules))

	for _, rule := range x.spec.Rules {
		if rule.Unless != nil && fmt.Sprint(details[rule.Unless.Column]) == rule.Unless.Equals {
			continue
		}

		phase, _ := x.spec.PhaseIndex(rule.Phase)
		boundary, ok := t.FirstPhase(phase)
		if !ok {
			res.Missing = append(res.Missing, rule.Phase)
			x.logger.Debug("phase not found",
				zap.Int("trial", t.Index),
				zap.String("phase", rule.Phase))
			continue
		}

		at := x.locate(t, rule, boundary)
		tm := t.Events[at].Time
		if _, seen := located[rule.Phase]; !seen {
			located[rule.Phase] = tm
		}

		if rule.DelayColumn != "" {
			if ref, ok := located[x.reference]; ok {
				details[rule.DelayColumn] = tm - ref
			}
		}

		res.Rows = append(res.Rows, model.DerivedEvent{
			TrialIndex: t.Index,
			Marker:     rule.Phase,
			Time:       tm,
		})
	}

	// Every row of a trial carries the same, final details.
	for i := range res.Rows {
		res.Rows[i].Fields = details
	}
	return res, nil
}

// locate returns the position of the event that times rule.
// boundary is the position of the first TrialState at the rule's phase.
func (x *Extractor) locate(t model.Trial, rule protocol.Rule, boundary int) int {
	switch {
	case rule.Object != nil:
		if at, ok := x.findObject(t, *rule.Object); ok {
			return at
		}
	case rule.Input != nil:
		if at, ok := findInput(t, *rule.Input, boundary); ok {
			return at
		}
	}
	return boundary
}

func (x *Extractor) findObject(t model.Trial, m protocol.ObjectMatch) (int, bool) {
	lo, hi := 0, len(t.Events)
	if m.From != "" {
		idx, _ := x.spec.PhaseIndex(m.From)
		at, ok := t.FirstPhase(idx)
		if !ok {
			return 0, false
		}
		lo = at
	}
	if m.To != "" {
		idx, _ := x.spec.PhaseIndex(m.To)
		at, ok := t.FirstPhase(idx)
		if !ok {
			return 0, false
		}
		hi = at
	}

	found := -1
	for i := lo; i < hi; i++ {
		ev := t.Events[i]
		if ev.Kind != model.KindObjectInfo || !m.Matches(ev.Object) {
			continue
		}
		found = i
		if m.Pick != protocol.PickLast {
			break
		}
	}
	return found, found >= 0
}

func findInput(t model.Trial, m protocol.InputMatch, boundary int) (int, bool) {
	for i := boundary; i < len(t.Events); i++ {
		ev := t.Events[i]
		if ev.Kind != model.KindInput {
			continue
		}
		if m.ExcludeClass != "" && ev.Input.SelectedObjectClass == m.ExcludeClass {
			continue
		}
		return i, true
	}
	return 0, false
}
