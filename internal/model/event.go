// Package model defines core data structures for trialflow.
package model

import (
	"fmt"
	"math"
)

// Marker is one raw (time, payload) pair from the task controller.
// Payload is the undecoded JSON string exactly as it was logged.
type Marker struct {
	Time    float64
	Payload string
}

// Kind discriminates the payload carried by a RawEvent.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTrialState
	KindInput
	KindObjectInfo
	KindCameraRecenter
)

// String returns the controller's name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTrialState:
		return "TrialState"
	case KindInput:
		return "Input"
	case KindObjectInfo:
		return "ObjectInfo"
	case KindCameraRecenter:
		return "CameraRecenter"
	default:
		return "Unknown"
	}
}

// ParseKind maps a top-level payload key to a Kind.
func ParseKind(s string) Kind {
	switch s {
	case "TrialState":
		return KindTrialState
	case "Input":
		return KindInput
	case "ObjectInfo":
		return KindObjectInfo
	case "CameraRecenter":
		return KindCameraRecenter
	default:
		return KindUnknown
	}
}

// RawEvent is a decoded marker. Exactly one of the payload pointers is
// set and it always matches Kind.
type RawEvent struct {
	// Seq is the position of the source marker in the input stream.
	Seq  int
	Time float64
	Kind Kind

	State    *TrialState
	Input    *Input
	Object   *ObjectInfo
	Recenter *CameraRecenter

	// Synthetic marks records inserted by protocol repair.
	Synthetic bool
}

// TrialState is a protocol phase transition record.
type TrialState struct {
	TrialIndex int
	Phase      int
	IsCorrect  bool
	Outcome    string

	// Fields holds every key of the record, including the ones above,
	// so protocol field mappings can address them by name.
	Fields map[string]any
}

// Input is a user input registration (gaze collides with an object).
type Input struct {
	TrialIndex          int
	SelectedObjectClass string
	Info                string
	Fields              map[string]any
}

// Vec3 is a Unity vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ObjectInfo reports a scene object being placed, shown or hidden.
type ObjectInfo struct {
	Identity   string
	Visible    bool
	Position   Vec3
	PointingTo Vec3
}

// CameraRecenter reports camera height and yaw being recentered on the user.
type CameraRecenter struct {
	Recentered bool
}

// Phase returns the protocol phase of a TrialState event.
func (e RawEvent) Phase() (int, bool) {
	if e.Kind != KindTrialState || e.State == nil {
		return 0, false
	}
	return e.State.Phase, true
}

// IsPhase reports whether e is a TrialState record at phase.
func (e RawEvent) IsPhase(phase int) bool {
	p, ok := e.Phase()
	return ok && p == phase
}

// Validate checks that the payload pointer matches Kind.
func (e RawEvent) Validate() error {
	var ok bool
	switch e.Kind {
	case KindTrialState:
		ok = e.State != nil
	case KindInput:
		ok = e.Input != nil
	case KindObjectInfo:
		ok = e.Object != nil
	case KindCameraRecenter:
		ok = e.Recenter != nil
	case KindUnknown:
		return fmt.Errorf("event %d: unknown kind", e.Seq)
	}
	if !ok {
		return fmt.Errorf("event %d: missing %s payload", e.Seq, e.Kind)
	}
	return nil
}

// CloneState returns a copy of a TrialState event with an independent
// payload, so overrides never touch the decoded original.
func (e RawEvent) CloneState() RawEvent {
	out := e
	if e.State == nil {
		return out
	}
	st := *e.State
	st.Fields = make(map[string]any, len(e.State.Fields))
	for k, v := range e.State.Fields {
		st.Fields[k] = v
	}
	out.State = &st
	return out
}

// Trial is the run of events sharing one trial index.
type Trial struct {
	Index  int
	Events []RawEvent
}

// NoPhase marks a non-TrialState event in Trial.Phases.
const NoPhase = math.MinInt

// Phases returns the phase of each event, NoPhase for non-state events.
func (t Trial) Phases() []int {
	out := make([]int, len(t.Events))
	for i, ev := range t.Events {
		if p, ok := ev.Phase(); ok {
			out[i] = p
		} else {
			out[i] = NoPhase
		}
	}
	return out
}

// FirstPhase returns the position of the first TrialState at phase.
func (t Trial) FirstPhase(phase int) (int, bool) {
	for i, ev := range t.Events {
		if ev.IsPhase(phase) {
			return i, true
		}
	}
	return -1, false
}

// HasKind reports whether any event in the trial has kind k.
func (t Trial) HasKind(k Kind) bool {
	for _, ev := range t.Events {
		if ev.Kind == k {
			return true
		}
	}
	return false
}
