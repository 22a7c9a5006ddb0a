package ingest

import (
	"fmt"
	"slices"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

// validate checks the tree against the descriptor and collects every
// violation in field-declaration order, so fallback synthesis sees the
// complete picture in one pass. An empty result means the tree
// satisfies the schema. Validation failure is an ordinary outcome, not
// an error.
func validate(tree any, desc *schema.Descriptor) []schema.Violation {
	obj, _ := tree.(map[string]any)
	return validateObject(obj, desc.Fields, "")
}

func validateObject(obj map[string]any, fields []schema.FieldSpec, prefix string) []schema.Violation {
	var out []schema.Violation
	for i := range fields {
		spec := &fields[i]
		path := joinPath(prefix, spec.Name)
		value, present := obj[spec.Name]
		if !present || value == nil {
			if spec.Required {
				out = append(out, schema.Violation{
					Path:   path,
					Kind:   schema.ViolationMissing,
					Detail: fmt.Sprintf("required %s field absent", spec.Type),
				})
			}
			continue
		}
		out = append(out, checkValue(value, spec, path)...)
	}
	return out
}

func checkValue(value any, spec *schema.FieldSpec, path string) []schema.Violation {
	switch spec.Type {
	case schema.TypeString:
		s, ok := value.(string)
		if !ok {
			return wrongType(path, spec, value)
		}
		return checkLength(len(s), spec, path, "string")
	case schema.TypeInt, schema.TypeFloat:
		f, ok := asNumber(value)
		if !ok {
			return wrongType(path, spec, value)
		}
		return checkRange(f, spec, path)
	case schema.TypeBool:
		if _, ok := value.(bool); !ok {
			return wrongType(path, spec, value)
		}
		return nil
	case schema.TypeEnum:
		s, ok := value.(string)
		if !ok {
			return wrongType(path, spec, value)
		}
		if !slices.Contains(spec.Values, s) {
			return []schema.Violation{{
				Path:   path,
				Kind:   schema.ViolationInvalidEnum,
				Detail: fmt.Sprintf("%q is not a canonical value", s),
			}}
		}
		return nil
	case schema.TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return wrongType(path, spec, value)
		}
		return validateObject(obj, spec.Fields, path)
	case schema.TypeList:
		items, ok := value.([]any)
		if !ok {
			return wrongType(path, spec, value)
		}
		out := checkLength(len(items), spec, path, "list")
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				out = append(out, schema.Violation{Path: itemPath, Kind: schema.ViolationMissing, Detail: "null element"})
				continue
			}
			out = append(out, checkValue(item, spec.Elem, itemPath)...)
		}
		return out
	default:
		return nil
	}
}

func wrongType(path string, spec *schema.FieldSpec, value any) []schema.Violation {
	return []schema.Violation{{
		Path:   path,
		Kind:   schema.ViolationWrongType,
		Detail: fmt.Sprintf("expected %s, got %T", spec.Type, value),
	}}
}

func checkRange(f float64, spec *schema.FieldSpec, path string) []schema.Violation {
	if spec.Min != nil && f < *spec.Min {
		return []schema.Violation{{
			Path:   path,
			Kind:   schema.ViolationOutOfRange,
			Detail: fmt.Sprintf("%v is below minimum %v", f, *spec.Min),
		}}
	}
	if spec.Max != nil && f > *spec.Max {
		return []schema.Violation{{
			Path:   path,
			Kind:   schema.ViolationOutOfRange,
			Detail: fmt.Sprintf("%v is above maximum %v", f, *spec.Max),
		}}
	}
	return nil
}

func checkLength(n int, spec *schema.FieldSpec, path, what string) []schema.Violation {
	if spec.MinLen > 0 && n < spec.MinLen {
		return []schema.Violation{{
			Path:   path,
			Kind:   schema.ViolationOutOfRange,
			Detail: fmt.Sprintf("%s length %d is below minimum %d", what, n, spec.MinLen),
		}}
	}
	if spec.MaxLen > 0 && n > spec.MaxLen {
		return []schema.Violation{{
			Path:   path,
			Kind:   schema.ViolationOutOfRange,
			Detail: fmt.Sprintf("%s length %d is above maximum %d", what, n, spec.MaxLen),
		}}
	}
	return nil
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
