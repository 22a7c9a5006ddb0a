package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

// synthesize builds a schema-valid record from whatever fragments of
// the tree survived validation. Surviving fields are carried through
// unchanged; everything else is rebuilt from the field's default
// strategy, falling back to a constructed minimum when the strategy
// cannot satisfy the constraints. It always succeeds. When the tree
// holds nothing at all, the raw input text is routed into the
// descriptor's designated sink field so no information is silently
// lost.
func synthesize(tree any, desc *schema.Descriptor, raw string) map[string]any {
	obj, _ := tree.(map[string]any)
	sink := ""
	if len(obj) == 0 {
		sink = raw
	}
	return synthesizeObject(obj, desc.Fields, sink)
}

func synthesizeObject(obj map[string]any, fields []schema.FieldSpec, raw string) map[string]any {
	siblings := make(map[string]any, len(obj)+len(fields))
	for key, value := range obj {
		siblings[key] = value
	}

	out := make(map[string]any, len(fields))
	for i := range fields {
		spec := &fields[i]
		value, present := obj[spec.Name]
		if present && value != nil && len(checkValue(value, spec, spec.Name)) == 0 {
			out[spec.Name] = value
			siblings[spec.Name] = value
			continue
		}
		if (!present || value == nil) && !spec.Required {
			if d := defaultFor(spec); d != nil {
				out[spec.Name] = d
				siblings[spec.Name] = d
			}
			continue
		}
		repaired := synthesizeField(spec, value, siblings, raw)
		if spec.Required || len(checkValue(repaired, spec, spec.Name)) == 0 {
			out[spec.Name] = repaired
			siblings[spec.Name] = repaired
		}
	}
	return out
}

// synthesizeField rebuilds one field. Containers are repaired in place
// so valid fragments inside them survive; scalars get the declared
// strategy first and a constructed minimum as the last resort.
func synthesizeField(spec *schema.FieldSpec, current any, siblings map[string]any, raw string) any {
	switch spec.Type {
	case schema.TypeObject:
		child, _ := current.(map[string]any)
		if child == nil {
			if v := strategyValue(spec, siblings); v != nil {
				child, _ = v.(map[string]any)
			}
		}
		return synthesizeObject(child, spec.Fields, raw)
	case schema.TypeList:
		items, _ := current.([]any)
		if items == nil {
			if v := strategyValue(spec, siblings); v != nil {
				items, _ = v.([]any)
			}
		}
		return synthesizeList(spec, items, raw)
	}

	if spec.Type == schema.TypeString && spec.AbsorbRaw {
		if s := sinkValue(spec, raw); s != "" {
			return s
		}
	}
	if v := strategyValue(spec, siblings); v != nil && len(checkValue(v, spec, spec.Name)) == 0 {
		return v
	}
	return minimalValue(spec)
}

func synthesizeList(spec *schema.FieldSpec, items []any, raw string) []any {
	out := make([]any, 0, max(len(items), spec.MinLen))
	for i, item := range items {
		path := fmt.Sprintf("%s[%d]", spec.Name, i)
		if item != nil && len(checkValue(item, spec.Elem, path)) == 0 {
			out = append(out, item)
			continue
		}
		out = append(out, synthesizeElem(spec.Elem, item, raw))
	}
	for len(out) < spec.MinLen {
		out = append(out, synthesizeElem(spec.Elem, nil, raw))
	}
	if spec.MaxLen > 0 && len(out) > spec.MaxLen {
		out = out[:spec.MaxLen]
	}
	return out
}

func synthesizeElem(elem *schema.FieldSpec, current any, raw string) any {
	switch elem.Type {
	case schema.TypeObject:
		child, _ := current.(map[string]any)
		return synthesizeObject(child, elem.Fields, raw)
	case schema.TypeList:
		items, _ := current.([]any)
		return synthesizeList(elem, items, raw)
	}
	if elem.Type == schema.TypeString && elem.AbsorbRaw {
		if s := sinkValue(elem, raw); s != "" {
			return s
		}
	}
	if v := strategyValue(elem, nil); v != nil && len(checkValue(v, elem, elem.Name)) == 0 {
		return v
	}
	return minimalValue(elem)
}

func strategyValue(spec *schema.FieldSpec, siblings map[string]any) any {
	switch spec.Default.Kind {
	case schema.DefaultLiteral:
		return spec.Default.Value
	case schema.DefaultDerived:
		if siblings == nil {
			siblings = map[string]any{}
		}
		return spec.Default.Derive(siblings)
	default:
		return nil
	}
}

// minimalValue constructs the smallest scalar that satisfies the spec:
// the zero value pushed inside any declared bounds, or the enum
// fallback.
func minimalValue(spec *schema.FieldSpec) any {
	switch spec.Type {
	case schema.TypeString:
		return ""
	case schema.TypeInt:
		return int(clampToBounds(0, spec))
	case schema.TypeFloat:
		return clampToBounds(0, spec)
	case schema.TypeBool:
		return false
	case schema.TypeEnum:
		return spec.EnumFallback
	default:
		return nil
	}
}

func clampToBounds(f float64, spec *schema.FieldSpec) float64 {
	if spec.Min != nil && f < *spec.Min {
		f = *spec.Min
	}
	if spec.Max != nil && f > *spec.Max {
		f = *spec.Max
	}
	return f
}

func sinkValue(spec *schema.FieldSpec, raw string) string {
	s := strings.TrimSpace(raw)
	if spec.MaxLen > 0 && len(s) > spec.MaxLen {
		s = s[:spec.MaxLen]
		for len(s) > 0 && !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	return s
}

// defaultFor returns the value an absent optional field settles at:
// its declared literal, or for objects a struct of its children's
// defaults. Records behave as if these fields had typed defaults; the
// fill does not count as recovery work.
func defaultFor(spec *schema.FieldSpec) any {
	switch spec.Default.Kind {
	case schema.DefaultLiteral:
		return spec.Default.Value
	case schema.DefaultDerived:
		return nil
	}
	if spec.Type == schema.TypeObject {
		obj := make(map[string]any, len(spec.Fields))
		for i := range spec.Fields {
			child := &spec.Fields[i]
			if d := defaultFor(child); d != nil {
				obj[child.Name] = d
			}
		}
		if len(obj) > 0 {
			return obj
		}
	}
	return nil
}

// fillDefaults assembles the final record from a validated tree:
// declared fields are carried through unchanged, absent optional
// fields settle at their defaults, and keys the schema does not
// declare are left behind. It descends into containers so nested
// optional fields settle too.
func fillDefaults(obj map[string]any, fields []schema.FieldSpec) map[string]any {
	out := make(map[string]any, len(fields))
	for i := range fields {
		spec := &fields[i]
		value, present := obj[spec.Name]
		if !present || value == nil {
			if d := defaultFor(spec); d != nil {
				out[spec.Name] = d
			}
			continue
		}
		switch spec.Type {
		case schema.TypeObject:
			if child, ok := value.(map[string]any); ok {
				value = fillDefaults(child, spec.Fields)
			}
		case schema.TypeList:
			if items, ok := value.([]any); ok && spec.Elem.Type == schema.TypeObject {
				filled := make([]any, len(items))
				for j, item := range items {
					if child, ok := item.(map[string]any); ok {
						filled[j] = fillDefaults(child, spec.Elem.Fields)
					} else {
						filled[j] = item
					}
				}
				value = filled
			}
		}
		out[spec.Name] = value
	}
	return out
}
