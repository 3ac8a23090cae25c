package model

import "math"

// Details holds the per-trial metadata attached to every derived row.
// Values are int, float64, bool or string.
type Details map[string]any

// Clone returns an independent copy.
func (d Details) Clone() Details {
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// DerivedEvent is one output row: a named sub-event within a trial.
type DerivedEvent struct {
	TrialIndex int
	Marker     string
	Time       float64
	Fields     Details
}

// NaN is the missing value for derived float columns.
var NaN = math.NaN()
