// Package protocol describes task versions as data.
//
// A Spec carries everything the reconstruction engine needs to know about
// one version of the controller's protocol: the phase index mapping, the
// enum tables used to label trial metadata, the repair policy for the
// duplicated terminal record, and the ordered phase-extraction rules.
// New task versions are added by writing a YAML file, not code.
package protocol

import (
	"fmt"
	"sort"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// Reserved column names present in every output table.
const (
	ColumnTime   = "Time"
	ColumnTrial  = "Trial"
	ColumnMarker = "Marker"
)

// FieldType is the value type of an output column.
type FieldType string

const (
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeString FieldType = "string"
)

// Pick selects which matching object event a rule uses.
type Pick string

const (
	PickFirst Pick = "first"
	PickLast  Pick = "last"
)

// Spec is one task version.
type Spec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	Phases          map[int]string `yaml:"phases"`
	TerminalPhase   string         `yaml:"terminal_phase"`
	IntertrialPhase string         `yaml:"intertrial_phase"`

	Enums  map[string]map[int]string `yaml:"enums"`
	Fields []Field                   `yaml:"fields"`

	Repair RepairPolicy `yaml:"repair"`

	// DelayReference names the phase whose located time anchors every
	// rule's delay column.
	DelayReference string `yaml:"delay_reference"`
	Rules          []Rule `yaml:"rules"`

	phaseIndex map[string]int
}

// Field maps a key of the terminal TrialState record to an output column.
type Field struct {
	Column   string    `yaml:"column"`
	Source   string    `yaml:"source"`
	Type     FieldType `yaml:"type,omitempty"`
	Enum     string    `yaml:"enum,omitempty"`
	Optional bool      `yaml:"optional,omitempty"`
	Default  any       `yaml:"default,omitempty"`
}

// ValueType returns the column type; enum-mapped fields are strings.
func (f Field) ValueType() FieldType {
	if f.Enum != "" {
		return TypeString
	}
	if f.Type == "" {
		return TypeString
	}
	return f.Type
}

// RepairPolicy controls the terminal-record repair state machine.
type RepairPolicy struct {
	Enabled            bool               `yaml:"enabled"`
	DuplicateWhen      DuplicatePredicate `yaml:"duplicate_when"`
	EarlyOutcome       string             `yaml:"early_outcome"`
	ReinsertIntertrial bool               `yaml:"reinsert_intertrial"`
}

// DuplicatePredicate decides whether the TrialState that resolves a
// pending terminal record is a corrected repeat of it. All set
// conditions must hold.
type DuplicatePredicate struct {
	// SamePhase requires the resolving record to be at the terminal phase.
	SamePhase        bool   `yaml:"same_phase"`
	OutcomeEquals    string `yaml:"outcome_equals,omitempty"`
	OutcomeNotEquals string `yaml:"outcome_not_equals,omitempty"`
}

// IsDuplicate evaluates the predicate against the resolving record.
func (p DuplicatePredicate) IsDuplicate(st *model.TrialState, terminal int) bool {
	if st == nil {
		return false
	}
	if p.SamePhase && st.Phase != terminal {
		return false
	}
	if p.OutcomeEquals != "" && st.Outcome != p.OutcomeEquals {
		return false
	}
	if p.OutcomeNotEquals != "" && st.Outcome == p.OutcomeNotEquals {
		return false
	}
	return true
}

// Rule locates one canonical phase within a trial.
type Rule struct {
	Phase string `yaml:"phase"`

	Unless *Condition   `yaml:"unless,omitempty"`
	Object *ObjectMatch `yaml:"object,omitempty"`
	Input  *InputMatch  `yaml:"input,omitempty"`

	// DelayColumn receives time - reference time before the row is attached.
	DelayColumn string `yaml:"delay_column,omitempty"`
}

// Condition compares a details column with a label.
type Condition struct {
	Column string `yaml:"column"`
	Equals string `yaml:"equals"`
}

// ObjectMatch prefers an ObjectInfo event over the phase boundary.
// From and To bound the search to [first(From), first(To)).
type ObjectMatch struct {
	Identity string `yaml:"identity,omitempty"`
	Visible  *bool  `yaml:"visible,omitempty"`
	Pick     Pick   `yaml:"pick,omitempty"`
	From     string `yaml:"from,omitempty"`
	To       string `yaml:"to,omitempty"`
}

// Matches reports whether obj satisfies identity and visibility.
func (m ObjectMatch) Matches(obj *model.ObjectInfo) bool {
	if obj == nil {
		return false
	}
	if m.Identity != "" && obj.Identity != m.Identity {
		return false
	}
	if m.Visible != nil && obj.Visible != *m.Visible {
		return false
	}
	return true
}

// InputMatch prefers the first qualifying Input at or after the phase.
type InputMatch struct {
	ExcludeClass string `yaml:"exclude_class,omitempty"`
}

// Column is one output column.
type Column struct {
	Name string
	Type FieldType
}

// PhaseIndex returns the index of a named phase.
func (s *Spec) PhaseIndex(name string) (int, bool) {
	if s.phaseIndex == nil {
		s.buildIndex()
	}
	idx, ok := s.phaseIndex[name]
	return idx, ok
}

// PhaseName returns the name of a phase index.
func (s *Spec) PhaseName(idx int) (string, bool) {
	name, ok := s.Phases[idx]
	return name, ok
}

// Terminal returns the terminal phase index. Only valid after Validate.
func (s *Spec) Terminal() int {
	idx, _ := s.PhaseIndex(s.TerminalPhase)
	return idx
}

// Intertrial returns the intertrial phase index. Only valid after Validate.
func (s *Spec) Intertrial() int {
	idx, _ := s.PhaseIndex(s.IntertrialPhase)
	return idx
}

// Label maps an enum code to its label.
func (s *Spec) Label(enum string, code int) (string, bool) {
	table, ok := s.Enums[enum]
	if !ok {
		return "", false
	}
	label, ok := table[code]
	return label, ok
}

// DelayColumns returns the rule delay columns in rule order.
func (s *Spec) DelayColumns() []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range s.Rules {
		if r.DelayColumn == "" || seen[r.DelayColumn] {
			continue
		}
		seen[r.DelayColumn] = true
		out = append(out, r.DelayColumn)
	}
	return out
}

// Columns returns the output table layout:
// Time, Trial, Marker, the mapped fields, then the delay columns.
func (s *Spec) Columns() []Column {
	cols := []Column{
		{Name: ColumnTime, Type: TypeFloat},
		{Name: ColumnTrial, Type: TypeInt},
		{Name: ColumnMarker, Type: TypeString},
	}
	for _, f := range s.Fields {
		cols = append(cols, Column{Name: f.Column, Type: f.ValueType()})
	}
	for _, c := range s.DelayColumns() {
		cols = append(cols, Column{Name: c, Type: TypeFloat})
	}
	return cols
}

func (s *Spec) buildIndex() {
	s.phaseIndex = make(map[string]int, len(s.Phases))
	for idx, name := range s.Phases {
		s.phaseIndex[name] = idx
	}
}

// applyDefaults fills the documented defaults for omitted keys.
func (s *Spec) applyDefaults() {
	if s.TerminalPhase == "" {
		s.TerminalPhase = "Feedback"
	}
	if s.IntertrialPhase == "" {
		s.IntertrialPhase = "Intertrial"
	}
	if s.DelayReference == "" {
		s.DelayReference = "Go"
	}
	for i := range s.Rules {
		if s.Rules[i].Object != nil && s.Rules[i].Object.Pick == "" {
			s.Rules[i].Object.Pick = PickFirst
		}
	}
}

// Validate checks internal consistency. Every failure is a
// ConfigurationError.
func (s *Spec) Validate() error {
	s.applyDefaults()

	if s.Name == "" {
		return errors.Config("protocol has no name")
	}
	if len(s.Phases) == 0 {
		return errors.Config("protocol %s defines no phases", s.Name)
	}

	s.phaseIndex = make(map[string]int, len(s.Phases))
	idxs := make([]int, 0, len(s.Phases))
	for idx := range s.Phases {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		name := s.Phases[idx]
		if prev, dup := s.phaseIndex[name]; dup {
			return errors.Config("protocol %s: phase %q mapped by both %d and %d", s.Name, name, prev, idx)
		}
		s.phaseIndex[name] = idx
	}

	for _, name := range []string{s.TerminalPhase, s.IntertrialPhase, s.DelayReference} {
		if _, ok := s.phaseIndex[name]; !ok {
			return errors.Config("protocol %s: unknown phase %q", s.Name, name)
		}
	}

	columns := map[string]bool{ColumnTime: true, ColumnTrial: true, ColumnMarker: true}
	for _, f := range s.Fields {
		if f.Column == "" || f.Source == "" {
			return errors.Config("protocol %s: field needs column and source", s.Name)
		}
		if columns[f.Column] {
			return errors.Config("protocol %s: duplicate column %q", s.Name, f.Column)
		}
		columns[f.Column] = true
		if f.Enum != "" {
			if _, ok := s.Enums[f.Enum]; !ok {
				return errors.Config("protocol %s: field %s uses unknown enum %q", s.Name, f.Column, f.Enum)
			}
		}
		switch f.ValueType() {
		case TypeInt, TypeFloat, TypeBool, TypeString:
		default:
			return errors.Config("protocol %s: field %s has unknown type %q", s.Name, f.Column, f.Type)
		}
	}

	for i, r := range s.Rules {
		if _, ok := s.phaseIndex[r.Phase]; !ok {
			return errors.Config("protocol %s: rule %d uses unknown phase %q", s.Name, i, r.Phase)
		}
		if r.Object != nil && r.Input != nil {
			return errors.Config("protocol %s: rule %s sets both object and input", s.Name, r.Phase)
		}
		if r.Object != nil {
			if err := s.validateObject(r); err != nil {
				return err
			}
		}
		if r.Unless != nil && !columns[r.Unless.Column] {
			return errors.Config("protocol %s: rule %s conditions on unknown column %q", s.Name, r.Phase, r.Unless.Column)
		}
		if r.DelayColumn != "" && columns[r.DelayColumn] {
			return errors.Config("protocol %s: delay column %q collides with a field", s.Name, r.DelayColumn)
		}
	}
	return nil
}

func (s *Spec) validateObject(r Rule) error {
	switch r.Object.Pick {
	case PickFirst, PickLast:
	default:
		return errors.Config("protocol %s: rule %s has unknown pick %q", s.Name, r.Phase, r.Object.Pick)
	}
	for _, bound := range []string{r.Object.From, r.Object.To} {
		if bound == "" {
			continue
		}
		if _, ok := s.phaseIndex[bound]; !ok {
			return errors.Config("protocol %s: rule %s bounded by unknown phase %q", s.Name, r.Phase, bound)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (s *Spec) String() string {
	return fmt.Sprintf("%s (%d phases, %d rules)", s.Name, len(s.Phases), len(s.Rules))
}
