package extract

import (
	"fmt"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

// Details maps the terminal record of a trial through the protocol's
// field table. Delay columns start as NaN.
func Details(spec *protocol.Spec, st *model.TrialState) (model.Details, error) {
	d := make(model.Details, len(spec.Fields)+2)

	for _, f := range spec.Fields {
		raw, present := st.Fields[f.Source]
		if !present || raw == nil {
			if !f.Optional {
				return nil, errors.Config("terminal record has no %q", f.Source).
					WithContext("column", f.Column)
			}
			d[f.Column] = defaultValue(f)
			continue
		}

		v, err := mapField(spec, f, raw)
		if err != nil {
			return nil, err
		}
		d[f.Column] = v
	}

	for _, c := range spec.DelayColumns() {
		d[c] = model.NaN
	}
	return d, nil
}

func mapField(spec *protocol.Spec, f protocol.Field, raw any) (any, error) {
	if f.Enum != "" {
		code, ok := model.AsInt(raw)
		if !ok {
			return nil, errors.UnmappedCode(f.Enum, raw).WithContext("column", f.Column)
		}
		label, ok := spec.Label(f.Enum, code)
		if !ok {
			return nil, errors.UnmappedCode(f.Enum, code).WithContext("column", f.Column)
		}
		return label, nil
	}

	var (
		v  any
		ok bool
	)
	switch f.ValueType() {
	case protocol.TypeInt:
		v, ok = model.AsInt(raw)
	case protocol.TypeFloat:
		v, ok = model.AsFloat(raw)
	case protocol.TypeBool:
		v, ok = model.AsBool(raw)
	case protocol.TypeString:
		if s, isStr := raw.(string); isStr {
			v, ok = s, true
		} else {
			v, ok = fmt.Sprint(raw), true
		}
	}
	if !ok {
		return nil, errors.Config("value %v of %q is not %s", raw, f.Source, f.ValueType()).
			WithContext("column", f.Column)
	}
	return v, nil
}

// defaultValue coerces a field's configured default to its column type,
// falling back to the type's zero value.
func defaultValue(f protocol.Field) any {
	switch f.ValueType() {
	case protocol.TypeInt:
		if v, ok := model.AsInt(f.Default); ok {
			return v
		}
		return 0
	case protocol.TypeFloat:
		if v, ok := model.AsFloat(f.Default); ok {
			return v
		}
		return model.NaN
	case protocol.TypeBool:
		if v, ok := model.AsBool(f.Default); ok {
			return v
		}
		return false
	default:
		if f.Default == nil {
			return ""
		}
		return fmt.Sprint(f.Default)
	}
}
