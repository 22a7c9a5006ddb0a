package schema

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidDescriptor reports a descriptor whose own declaration is
// internally inconsistent. This is a configuration bug in the calling
// process, not an input-data problem, so it is the one class of error
// the pipeline refuses to absorb.
var ErrInvalidDescriptor = errors.New("invalid schema descriptor")

// Validate checks the descriptor's internal consistency: alias
// collisions, enum tables referencing unknown values, derived defaults
// reading nonexistent siblings, constraints on the wrong types.
// Register calls this; it is exported so ad hoc descriptors can be
// checked without registration.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidDescriptor)
	}
	if d.Kind == "" {
		return fmt.Errorf("%w: descriptor kind is required", ErrInvalidDescriptor)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: %s declares no fields", ErrInvalidDescriptor, d.Kind)
	}
	if err := verifyFields(string(d.Kind), d.Fields); err != nil {
		return err
	}
	if n := countRawSinks(d.Fields); n > 1 {
		return fmt.Errorf("%w: %s declares %d raw-text sink fields, at most one is allowed", ErrInvalidDescriptor, d.Kind, n)
	}
	return nil
}

func verifyFields(scope string, fields []FieldSpec) error {
	owners := map[string]string{}
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			return fmt.Errorf("%w: %s declares a field with no name", ErrInvalidDescriptor, scope)
		}
		path := scope + "." + f.Name
		if owner, dup := owners[foldKey(f.Name)]; dup {
			return fmt.Errorf("%w: %s collides with field %q", ErrInvalidDescriptor, path, owner)
		}
		owners[foldKey(f.Name)] = f.Name
		for _, alias := range f.Aliases {
			if owner, dup := owners[foldKey(alias)]; dup {
				return fmt.Errorf("%w: %s alias %q collides with %q", ErrInvalidDescriptor, path, alias, owner)
			}
			owners[foldKey(alias)] = f.Name
		}
		if err := verifyField(path, f, fields); err != nil {
			return err
		}
	}
	return nil
}

func verifyField(path string, f *FieldSpec, siblings []FieldSpec) error {
	switch f.Type {
	case TypeEnum:
		if err := verifyEnum(path, f); err != nil {
			return err
		}
	case TypeList:
		if f.Elem == nil {
			return fmt.Errorf("%w: %s is a list but declares no element spec", ErrInvalidDescriptor, path)
		}
		if err := verifyField(path+"[]", f.Elem, nil); err != nil {
			return err
		}
	case TypeObject:
		if len(f.Fields) == 0 {
			return fmt.Errorf("%w: %s is an object but declares no children", ErrInvalidDescriptor, path)
		}
		if err := verifyFields(path, f.Fields); err != nil {
			return err
		}
		if f.ScalarKey != "" {
			child := fieldByName(f.Fields, f.ScalarKey)
			if child == nil {
				return fmt.Errorf("%w: %s scalar key %q names no child field", ErrInvalidDescriptor, path, f.ScalarKey)
			}
			if child.Type != TypeString {
				return fmt.Errorf("%w: %s scalar key %q must name a string child, got %s", ErrInvalidDescriptor, path, f.ScalarKey, child.Type)
			}
		}
	}

	if (f.Min != nil || f.Max != nil) && f.Type != TypeInt && f.Type != TypeFloat {
		return fmt.Errorf("%w: %s declares numeric bounds on a %s field", ErrInvalidDescriptor, path, f.Type)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("%w: %s minimum %v exceeds maximum %v", ErrInvalidDescriptor, path, *f.Min, *f.Max)
	}
	if (f.MinLen > 0 || f.MaxLen > 0) && f.Type != TypeString && f.Type != TypeList {
		return fmt.Errorf("%w: %s declares length bounds on a %s field", ErrInvalidDescriptor, path, f.Type)
	}
	if f.MaxLen > 0 && f.MinLen > f.MaxLen {
		return fmt.Errorf("%w: %s minimum length %d exceeds maximum length %d", ErrInvalidDescriptor, path, f.MinLen, f.MaxLen)
	}
	if f.Millis && f.Type != TypeInt {
		return fmt.Errorf("%w: %s is marked as milliseconds but is not an int field", ErrInvalidDescriptor, path)
	}
	if f.Canon != nil && f.Type != TypeString {
		return fmt.Errorf("%w: %s declares a canonicalizer on a %s field", ErrInvalidDescriptor, path, f.Type)
	}
	if f.AbsorbRaw && f.Type != TypeString {
		return fmt.Errorf("%w: %s absorbs raw text but is not a string field", ErrInvalidDescriptor, path)
	}
	if f.Required && f.Type == TypeString && f.MinLen > 0 && f.Default.Kind == DefaultZero {
		return fmt.Errorf("%w: %s requires a minimum length but declares no default to satisfy it", ErrInvalidDescriptor, path)
	}

	return verifyDefault(path, f, siblings)
}

func verifyEnum(path string, f *FieldSpec) error {
	if len(f.Values) == 0 {
		return fmt.Errorf("%w: %s is an enum but declares no values", ErrInvalidDescriptor, path)
	}
	if f.EnumFallback == "" {
		return fmt.Errorf("%w: %s declares no enum fallback value", ErrInvalidDescriptor, path)
	}
	if !slices.Contains(f.Values, f.EnumFallback) {
		return fmt.Errorf("%w: %s fallback %q is not a canonical value", ErrInvalidDescriptor, path, f.EnumFallback)
	}
	folded := map[string]string{}
	for _, v := range f.Values {
		folded[foldKey(v)] = v
	}
	seen := map[string]string{}
	for observed, canonical := range f.Synonyms {
		if !slices.Contains(f.Values, canonical) {
			return fmt.Errorf("%w: %s synonym %q maps to unknown value %q", ErrInvalidDescriptor, path, observed, canonical)
		}
		key := foldKey(observed)
		if shadowed, ok := folded[key]; ok && shadowed != canonical {
			return fmt.Errorf("%w: %s synonym %q shadows canonical value %q", ErrInvalidDescriptor, path, observed, shadowed)
		}
		if prior, dup := seen[key]; dup && prior != canonical {
			return fmt.Errorf("%w: %s synonyms %q and %q fold to the same token with different targets", ErrInvalidDescriptor, path, prior, observed)
		}
		seen[key] = canonical
	}
	return nil
}

func verifyDefault(path string, f *FieldSpec, siblings []FieldSpec) error {
	switch f.Default.Kind {
	case DefaultZero:
		return nil
	case DefaultLiteral:
		if f.Default.Value == nil {
			return fmt.Errorf("%w: %s declares a literal default with no value", ErrInvalidDescriptor, path)
		}
		return verifyLiteral(path, f)
	case DefaultDerived:
		if f.Default.Derive == nil {
			return fmt.Errorf("%w: %s declares a derived default with no derive function", ErrInvalidDescriptor, path)
		}
		for _, need := range f.Default.Needs {
			if need == f.Name {
				return fmt.Errorf("%w: %s derived default references itself", ErrInvalidDescriptor, path)
			}
			if fieldByName(siblings, need) == nil {
				return fmt.Errorf("%w: %s derived default references nonexistent sibling %q", ErrInvalidDescriptor, path, need)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s declares unknown default strategy %d", ErrInvalidDescriptor, path, f.Default.Kind)
	}
}

func verifyLiteral(path string, f *FieldSpec) error {
	v := f.Default.Value
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s literal default %v is not a string", ErrInvalidDescriptor, path, v)
		}
		if (f.MinLen > 0 && len(s) < f.MinLen) || (f.MaxLen > 0 && len(s) > f.MaxLen) {
			return fmt.Errorf("%w: %s literal default %q violates the field's own length bounds", ErrInvalidDescriptor, path, s)
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok || !slices.Contains(f.Values, s) {
			return fmt.Errorf("%w: %s literal default %v is not a canonical enum value", ErrInvalidDescriptor, path, v)
		}
	case TypeInt, TypeFloat:
		fv, ok := literalNumber(v)
		if !ok {
			return fmt.Errorf("%w: %s literal default %v is not numeric", ErrInvalidDescriptor, path, v)
		}
		if (f.Min != nil && fv < *f.Min) || (f.Max != nil && fv > *f.Max) {
			return fmt.Errorf("%w: %s literal default %v violates the field's own bounds", ErrInvalidDescriptor, path, v)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%w: %s literal default %v is not a bool", ErrInvalidDescriptor, path, v)
		}
	}
	return nil
}

func literalNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func countRawSinks(fields []FieldSpec) int {
	n := 0
	for i := range fields {
		f := &fields[i]
		if f.AbsorbRaw {
			n++
		}
		switch f.Type {
		case TypeObject:
			n += countRawSinks(f.Fields)
		case TypeList:
			if f.Elem == nil {
				continue
			}
			if f.Elem.AbsorbRaw {
				n++
			}
			if f.Elem.Type == TypeObject {
				n += countRawSinks(f.Elem.Fields)
			}
		}
	}
	return n
}
