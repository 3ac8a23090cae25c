// Package fixture builds synthetic marker streams for tests.
package fixture

import (
	json "github.com/goccy/go-json"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
)

// Phase indices used by the built-in protocols.
const (
	Intertrial  = 1
	Fixate      = 2
	Cue         = 3
	Delay       = 4
	Target      = 5
	Go          = 6
	Countermand = 7
	Response    = 8
	Feedback    = 9
)

func marker(t float64, kind string, payload any) model.Marker {
	body, err := json.Marshal(map[string]any{kind: payload})
	if err != nil {
		panic(err)
	}
	return model.Marker{Time: t, Payload: string(body)}
}

// State returns a TrialState marker. extra keys are merged into the record.
func State(t float64, trial, phase int, extra map[string]any) model.Marker {
	rec := map[string]any{
		"trialIndex":      trial,
		"trialPhaseIndex": phase,
	}
	for k, v := range extra {
		rec[k] = v
	}
	return marker(t, "TrialState", rec)
}

// Object returns an ObjectInfo marker.
func Object(t float64, identity string, visible bool) model.Marker {
	return marker(t, "ObjectInfo", map[string]any{
		"_identity":   identity,
		"_isVisible":  visible,
		"_position":   map[string]float64{"x": 0, "y": 1.5, "z": 2},
		"_pointingTo": []float64{0, 0, 1},
	})
}

// Input returns an Input marker.
func Input(t float64, trial int, class string) model.Marker {
	return marker(t, "Input", map[string]any{
		"trialIndex":          trial,
		"selectedObjectClass": class,
		"info":                "gaze",
	})
}

// Recenter returns a CameraRecenter marker.
func Recenter(t float64) model.Marker {
	return marker(t, "CameraRecenter", true)
}

// Details returns the terminal-record fields of a correct prosaccade
// trial. Callers override keys as needed.
func Details(trial int) map[string]any {
	return map[string]any{
		"trialIndex":            trial,
		"taskType":              0,
		"inhibitionIndex":       0,
		"cuedPositionIndex":     0,
		"targetPositionIndex":   1,
		"targetObjectIndex":     3,
		"environmentIndex":      2,
		"selectedPositionIndex": 1,
		"selectedObjectIndex":   3,
		"isCorrect":             true,
		"outcome":               "Good trial",
		"saccadeIndex":          0,
	}
}

// Trial describes one synthetic trial. Settled trials log the terminal
// record twice, the way the controller does; aborted ones log it once.
type Trial struct {
	Index int
	Start float64

	// Details overrides keys of Details(Index) on the terminal records.
	Details map[string]any

	// Countermand shows CentralFixation again and adds the Countermand
	// phase before Response.
	Countermand bool

	// NoGoObject omits the CentralFixation hide at Go.
	NoGoObject bool

	// NoInput omits the response Inputs.
	NoInput bool

	// Abort ends the trial after Go with a single "Early response"
	// terminal record.
	Abort bool
}

// Offsets of each event from Trial.Start. Object events precede the
// phase record they belong to.
const (
	AtPlace         = 0.0
	AtIntertrial    = 0.1
	AtFixInput      = 0.3
	AtFixate        = 0.5
	AtCueOn         = 0.9
	AtCue           = 1.0
	AtCueOff        = 1.1
	AtDelay         = 1.5
	AtTargetOn      = 1.95
	AtTarget        = 2.0
	AtFixationOff   = 2.45
	AtGo            = 2.5
	AtFixationOn    = 2.65
	AtCountermand   = 2.7
	AtResponse      = 3.0
	AtWallInput     = 3.1
	AtInput         = 3.2
	AtFeedback      = 3.5
	AtFeedbackFinal = 3.6
)

// Markers returns the trial's marker sequence.
func (tr Trial) Markers() []model.Marker {
	t0, k := tr.Start, tr.Index
	out := []model.Marker{
		Object(t0+AtPlace, "Target", false),
		State(t0+AtIntertrial, k, Intertrial, nil),
		Input(t0+AtFixInput, k, "Fixation"),
		State(t0+AtFixate, k, Fixate, nil),
		Object(t0+AtCueOn, "Cue", true),
		State(t0+AtCue, k, Cue, nil),
		Object(t0+AtCueOff, "Cue", false),
		State(t0+AtDelay, k, Delay, nil),
		Object(t0+AtTargetOn, "Target", true),
		State(t0+AtTarget, k, Target, nil),
	}
	if !tr.NoGoObject {
		out = append(out, Object(t0+AtFixationOff, "CentralFixation", false))
	}
	out = append(out, State(t0+AtGo, k, Go, nil))

	details := Details(k)
	for key, v := range tr.Details {
		details[key] = v
	}
	if tr.Abort {
		details["outcome"] = "Early response"
		return append(out, State(t0+AtFeedback, k, Feedback, details))
	}

	if tr.Countermand {
		out = append(out,
			Object(t0+AtFixationOn, "CentralFixation", true),
			State(t0+AtCountermand, k, Countermand, nil),
		)
	}
	out = append(out, State(t0+AtResponse, k, Response, nil))
	if !tr.NoInput {
		out = append(out,
			Input(t0+AtWallInput, k, "Fixation"),
			Input(t0+AtInput, k, "Target"),
		)
	}

	premature := make(map[string]any, len(details))
	for key, v := range details {
		premature[key] = v
	}
	premature["isCorrect"] = false
	return append(out,
		State(t0+AtFeedback, k, Feedback, premature),
		State(t0+AtFeedbackFinal, k, Feedback, details),
	)
}

// Session concatenates trials.
func Session(trials ...Trial) []model.Marker {
	var out []model.Marker
	for _, tr := range trials {
		out = append(out, tr.Markers()...)
	}
	return out
}

// Simple returns n correct prosaccade trials, four seconds apart,
// indexed from 1.
func Simple(n int) []model.Marker {
	trials := make([]Trial, n)
	for i := range trials {
		trials[i] = Trial{Index: i + 1, Start: float64(i) * 4}
	}
	return Session(trials...)
}
