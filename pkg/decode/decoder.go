// Package decode turns raw controller marker strings into typed events.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// Stats summarizes one DecodeAll call.
type Stats struct {
	Total   int
	Decoded int
	Dropped int

	// Fixups counts applications per fix rule name.
	Fixups map[string]int
}

// FixupNames returns the rule names in Fixups, sorted.
func (s Stats) FixupNames() []string {
	names := make([]string, 0, len(s.Fixups))
	for k := range s.Fixups {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Decoder parses marker payloads. It is not safe for concurrent use.
type Decoder struct {
	rules      []FixRule
	strict     bool
	logger     *zap.Logger
	quarantine *errors.Collector
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithStrict makes DecodeAll abort on the first bad marker.
func WithStrict(strict bool) Option {
	return func(d *Decoder) { d.strict = strict }
}

// WithFixups replaces the default fix rules.
func WithFixups(rules ...FixRule) Option {
	return func(d *Decoder) { d.rules = rules }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithQuarantine records dropped markers in c.
func WithQuarantine(c *errors.Collector) Option {
	return func(d *Decoder) { d.quarantine = c }
}

// New creates a lenient decoder with the default fixups.
func New(opts ...Option) *Decoder {
	d := &Decoder{
		rules:  DefaultFixups(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode parses one marker. seq is its position in the input stream.
func (d *Decoder) Decode(seq int, m model.Marker) (model.RawEvent, error) {
	ev, _, err := d.decode(seq, m)
	return ev, err
}

// decode parses one marker and names the fixup rules that applied to it.
func (d *Decoder) decode(seq int, m model.Marker) (model.RawEvent, []string, error) {
	ev := model.RawEvent{Seq: seq, Time: m.Time}

	var record map[string]json.RawMessage
	if err := json.Unmarshal([]byte(m.Payload), &record); err != nil {
		return ev, nil, errors.Decode(seq, err)
	}
	var applied []string
	for _, rule := range d.rules {
		if rule.Apply(record) {
			applied = append(applied, rule.Name())
		}
	}
	if len(record) != 1 {
		return ev, nil, errors.Decode(seq, fmt.Errorf("expected a single top-level key, got %d", len(record)))
	}

	var key string
	var raw json.RawMessage
	for k, v := range record {
		key, raw = k, v
	}

	ev.Kind = model.ParseKind(key)
	var err error
	switch ev.Kind {
	case model.KindTrialState:
		ev.State, err = decodeTrialState(raw)
	case model.KindInput:
		ev.Input, err = decodeInput(raw)
	case model.KindObjectInfo:
		ev.Object, err = decodeObjectInfo(raw)
	case model.KindCameraRecenter:
		ev.Recenter, err = decodeRecenter(raw)
	case model.KindUnknown:
		err = fmt.Errorf("unknown event kind %q", key)
	}
	if err != nil {
		return ev, nil, errors.Decode(seq, err).WithContext("kind", key)
	}
	return ev, applied, nil
}

// DecodeAll decodes a whole stream. In lenient mode undecodable markers
// are dropped and counted; in strict mode the first one aborts the run.
func (d *Decoder) DecodeAll(ctx context.Context, markers []model.Marker) ([]model.RawEvent, Stats, error) {
	events := make([]model.RawEvent, 0, len(markers))
	stats := Stats{Total: len(markers), Fixups: make(map[string]int)}

	for i, m := range markers {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, errors.ContextCanceled("decode", err)
			}
		}

		ev, applied, err := d.decode(i, m)
		if err != nil {
			if d.strict {
				return nil, stats, err
			}
			stats.Dropped++
			d.logger.Warn("dropping undecodable marker",
				zap.Int("marker", i),
				zap.Float64("time", m.Time),
				zap.Error(err))
			if d.quarantine != nil {
				d.quarantine.Add(errors.RecordFrom(i, m.Time, m.Payload, err))
			}
			continue
		}
		for _, name := range applied {
			stats.Fixups[name]++
		}
		events = append(events, ev)
	}

	stats.Decoded = len(events)
	return events, stats, nil
}

func decodeFields(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	for k, v := range fields {
		fields[k] = model.Normalize(v)
	}
	return fields, nil
}

func decodeTrialState(raw json.RawMessage) (*model.TrialState, error) {
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	st := &model.TrialState{Fields: fields}

	var ok bool
	if st.Phase, ok = model.AsInt(fields["trialPhaseIndex"]); !ok {
		return nil, fmt.Errorf("trialPhaseIndex missing or not an integer")
	}
	if st.TrialIndex, ok = model.AsInt(fields["trialIndex"]); !ok {
		return nil, fmt.Errorf("trialIndex missing or not an integer")
	}
	if v, present := fields["isCorrect"]; present {
		if st.IsCorrect, ok = model.AsBool(v); !ok {
			return nil, fmt.Errorf("isCorrect is not a boolean")
		}
	}
	st.Outcome, _ = model.AsString(fields["outcome"])
	return st, nil
}

func decodeInput(raw json.RawMessage) (*model.Input, error) {
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	in := &model.Input{Fields: fields}
	in.TrialIndex, _ = model.AsInt(fields["trialIndex"])
	in.SelectedObjectClass, _ = model.AsString(fields["selectedObjectClass"])
	in.Info, _ = model.AsString(fields["info"])
	return in, nil
}

type objectPayload struct {
	Visible    bool            `json:"_isVisible"`
	Identity   string          `json:"_identity"`
	Position   json.RawMessage `json:"_position"`
	PointingTo json.RawMessage `json:"_pointingTo"`
}

func decodeObjectInfo(raw json.RawMessage) (*model.ObjectInfo, error) {
	var p objectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	obj := &model.ObjectInfo{Identity: p.Identity, Visible: p.Visible}

	var err error
	if obj.Position, err = decodeVec3(p.Position); err != nil {
		return nil, fmt.Errorf("_position: %w", err)
	}
	if obj.PointingTo, err = decodeVec3(p.PointingTo); err != nil {
		return nil, fmt.Errorf("_pointingTo: %w", err)
	}
	return obj, nil
}

// decodeVec3 accepts {"x":..,"y":..,"z":..} and [x, y, z].
func decodeVec3(raw json.RawMessage) (model.Vec3, error) {
	var v model.Vec3
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, nil
	}
	if raw[0] == '[' {
		var xs []float64
		if err := json.Unmarshal(raw, &xs); err != nil {
			return v, err
		}
		if len(xs) != 3 {
			return v, fmt.Errorf("expected 3 components, got %d", len(xs))
		}
		return model.Vec3{X: xs[0], Y: xs[1], Z: xs[2]}, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func decodeRecenter(raw json.RawMessage) (*model.CameraRecenter, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &model.CameraRecenter{Recentered: b}, nil
	}
	// Some releases log an object here; its presence is the signal.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &model.CameraRecenter{Recentered: v != nil}, nil
}
