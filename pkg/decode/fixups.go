package decode

import (
	json "github.com/goccy/go-json"
)

// FixRule repairs a known structural mistake in the controller's JSON
// encoding. Apply returns true if it changed the record.
type FixRule interface {
	Name() string
	Apply(record map[string]json.RawMessage) bool
}

// RenameKey moves the value of a misspelled top-level key to its
// correct name. The value itself is untouched.
type RenameKey struct {
	From string
	To   string
}

// Name implements FixRule.
func (r RenameKey) Name() string {
	return "rename:" + r.From
}

// Apply implements FixRule.
func (r RenameKey) Apply(record map[string]json.RawMessage) bool {
	v, ok := record[r.From]
	if !ok {
		return false
	}
	if _, clash := record[r.To]; clash {
		return false
	}
	delete(record, r.From)
	record[r.To] = v
	return true
}

// DefaultFixups are the key typos emitted by the Unity controller.
func DefaultFixups() []FixRule {
	return []FixRule{
		RenameKey{From: "CameraRecenter:", To: "CameraRecenter"},
		RenameKey{From: "Input:", To: "Input"},
	}
}
