package ingest

import (
	"sort"
	"strings"

	"github.com/spf13/cast"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

// normalize rewrites a parsed value tree into the shape the descriptor
// expects: canonical field names, canonical enum values, coerced
// scalar types, bare scalars promoted into lists. It never invents a
// field that is absent; filling gaps is fallback synthesis' job. The
// second return reports whether anything changed.
func normalize(tree any, desc *schema.Descriptor) (any, bool) {
	obj, ok := tree.(map[string]any)
	if !ok {
		return tree, false
	}
	return normalizeObject(obj, desc.Fields)
}

func normalizeObject(obj map[string]any, fields []schema.FieldSpec) (map[string]any, bool) {
	changed := false
	out := make(map[string]any, len(obj))

	// sorted keys keep alias collisions deterministic
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := obj[key]
		spec := schema.ResolveField(fields, key)
		if spec == nil {
			// unknown keys are carried through untouched so derived
			// defaults can still read them
			out[key] = value
			continue
		}
		if key != spec.Name {
			changed = true
			if _, exists := obj[spec.Name]; exists {
				// the canonical key is also present and wins
				continue
			}
			if _, taken := out[spec.Name]; taken {
				continue
			}
		}
		normalized, valueChanged := normalizeValue(value, spec)
		if valueChanged {
			changed = true
		}
		out[spec.Name] = normalized
	}
	return out, changed
}

func normalizeValue(value any, spec *schema.FieldSpec) (any, bool) {
	if value == nil {
		return nil, false
	}
	switch spec.Type {
	case schema.TypeString:
		return normalizeString(value, spec)
	case schema.TypeInt:
		return normalizeInt(value, spec)
	case schema.TypeFloat:
		return normalizeFloat(value)
	case schema.TypeBool:
		return normalizeBool(value)
	case schema.TypeEnum:
		return normalizeEnum(value, spec)
	case schema.TypeObject:
		return normalizeObjectValue(value, spec)
	case schema.TypeList:
		return normalizeList(value, spec)
	default:
		return value, false
	}
}

func normalizeString(value any, spec *schema.FieldSpec) (any, bool) {
	changed := false
	s, ok := value.(string)
	if !ok {
		switch value.(type) {
		case float64, int, int64, bool:
			s = cast.ToString(value)
			changed = true
		default:
			return value, false
		}
	}
	if spec.Canon != nil {
		if canon := spec.Canon(s); canon != s {
			s = canon
			changed = true
		}
	}
	return s, changed
}

func normalizeInt(value any, spec *schema.FieldSpec) (any, bool) {
	s, ok := value.(string)
	if !ok {
		return value, false
	}
	trimmed := strings.TrimSpace(s)
	if spec.Millis {
		if ms, ok := parseDurationMS(trimmed); ok {
			return ms, true
		}
	}
	if f, err := cast.ToFloat64E(trimmed); err == nil {
		return f, true
	}
	return value, false
}

func normalizeFloat(value any) (any, bool) {
	s, ok := value.(string)
	if !ok {
		return value, false
	}
	trimmed := strings.TrimSpace(s)
	if f, err := cast.ToFloat64E(trimmed); err == nil {
		return f, true
	}
	// tolerate unit suffixes such as "1.5x"
	stripped := strings.TrimRight(trimmed, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ%")
	if stripped != trimmed {
		if f, err := cast.ToFloat64E(stripped); err == nil {
			return f, true
		}
	}
	return value, false
}

func normalizeBool(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		lowered := strings.ToLower(strings.TrimSpace(v))
		if b, err := cast.ToBoolE(lowered); err == nil {
			return b, true
		}
		switch lowered {
		case "yes", "y", "on":
			return true, true
		case "no", "n", "off":
			return false, true
		}
		return value, false
	case float64:
		return v != 0, true
	default:
		return value, false
	}
}

func normalizeEnum(value any, spec *schema.FieldSpec) (any, bool) {
	s, ok := value.(string)
	if !ok {
		return value, false
	}
	if canonical, matched := spec.ResolveEnum(s); matched {
		return canonical, canonical != s
	}
	return spec.EnumFallback, true
}

func normalizeObjectValue(value any, spec *schema.FieldSpec) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return normalizeObject(v, spec.Fields)
	case string:
		if spec.ScalarKey != "" {
			return map[string]any{spec.ScalarKey: v}, true
		}
		return value, false
	default:
		return value, false
	}
}

func normalizeList(value any, spec *schema.FieldSpec) (any, bool) {
	items, ok := value.([]any)
	changed := false
	if !ok {
		items = []any{value}
		changed = true
	}
	out := make([]any, len(items))
	for i, item := range items {
		normalized, itemChanged := normalizeValue(item, spec.Elem)
		out[i] = normalized
		if itemChanged {
			changed = true
		}
	}
	return out, changed
}

// parseDurationMS converts duration-like strings such as "3.5s",
// "1500ms" or "2 minutes" into milliseconds. Bare numbers are not
// duration-like and fall through to plain numeric coercion.
func parseDurationMS(s string) (float64, bool) {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
	if s == "" {
		return 0, false
	}
	for _, unit := range []struct{ from, to string }{
		{"milliseconds", "ms"}, {"millisecond", "ms"}, {"msec", "ms"},
		{"seconds", "s"}, {"second", "s"}, {"secs", "s"}, {"sec", "s"},
		{"minutes", "m"}, {"minute", "m"}, {"mins", "m"}, {"min", "m"},
	} {
		if strings.HasSuffix(s, unit.from) {
			s = strings.TrimSuffix(s, unit.from) + unit.to
			break
		}
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return float64(d.Milliseconds()), true
}
