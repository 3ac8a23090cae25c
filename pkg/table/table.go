// Package table assembles derived trial events into the output table.
package table

import (
	"math"
	"sort"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

// KindMarkers identifies the table as an event-stream artifact.
const KindMarkers = "markers"

// Table is the output of a run: one row per derived event, ordered by
// trial and then by rule order within a trial. Times are not guaranteed
// to increase across rows.
type Table struct {
	Kind     string
	Protocol string
	Columns  []protocol.Column
	Rows     []model.DerivedEvent
}

// Assemble concatenates per-trial rows in trial-index order.
func Assemble(spec *protocol.Spec, trials [][]model.DerivedEvent) *Table {
	ordered := make([][]model.DerivedEvent, 0, len(trials))
	for _, rows := range trials {
		if len(rows) > 0 {
			ordered = append(ordered, rows)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i][0].TrialIndex < ordered[j][0].TrialIndex
	})

	t := &Table{
		Kind:     KindMarkers,
		Protocol: spec.Name,
		Columns:  spec.Columns(),
	}
	for _, rows := range ordered {
		t.Rows = append(t.Rows, rows...)
	}
	t.coerce()
	return t
}

// coerce makes every field value match its column type.
func (t *Table) coerce() {
	for i := range t.Rows {
		fields := make(model.Details, len(t.Columns))
		for _, c := range t.Columns[3:] {
			fields[c.Name] = coerceValue(t.Rows[i].Fields[c.Name], c.Type)
		}
		t.Rows[i].Fields = fields
	}
}

func coerceValue(v any, typ protocol.FieldType) any {
	switch typ {
	case protocol.TypeInt:
		if i, ok := model.AsInt(v); ok {
			return i
		}
		if f, ok := model.AsFloat(v); ok && !math.IsNaN(f) {
			return int(f)
		}
		return 0
	case protocol.TypeFloat:
		if f, ok := model.AsFloat(v); ok {
			return f
		}
		return math.NaN()
	case protocol.TypeBool:
		b, _ := model.AsBool(v)
		return b
	default:
		s, _ := v.(string)
		return s
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Times returns the event time of every row.
func (t *Table) Times() []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Time
	}
	return out
}

// Value returns the cell at row for column name.
func (t *Table) Value(row int, name string) any {
	r := t.Rows[row]
	switch name {
	case protocol.ColumnTime:
		return r.Time
	case protocol.ColumnTrial:
		return r.TrialIndex
	case protocol.ColumnMarker:
		return r.Marker
	default:
		return r.Fields[name]
	}
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Trials returns the distinct trial indices in table order.
func (t *Table) Trials() []int {
	var out []int
	for i, r := range t.Rows {
		if i == 0 || r.TrialIndex != t.Rows[i-1].TrialIndex {
			out = append(out, r.TrialIndex)
		}
	}
	return out
}
