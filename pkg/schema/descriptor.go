// Package schema holds the declarative descriptors the ingestion
// pipeline validates generator output against. A Descriptor is built
// once at process start, checked and frozen by Register, and treated
// as read-only for the lifetime of the process, so concurrent pipeline
// invocations can share it without locking.
package schema

import "strings"

// Kind identifies a registered record kind, e.g. "scene_package".
type Kind string

// FieldType enumerates the value shapes a FieldSpec can declare.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeEnum
	TypeObject
	TypeList
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeEnum:
		return "enum"
	case TypeObject:
		return "object"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// DefaultKind selects how fallback synthesis fills a field that is
// missing or carries an unusable value.
type DefaultKind int

const (
	// DefaultZero fills with the type's zero value: empty string,
	// zero, false, empty list, the enum's fallback value.
	DefaultZero DefaultKind = iota
	// DefaultLiteral fills with a fixed literal value.
	DefaultLiteral
	// DefaultDerived computes the value from sibling fields that
	// survived validation.
	DefaultDerived
)

// DeriveFunc computes a fallback value from the enclosing object's
// current fields. Implementations must return JSON-natural values
// (string, float64, int, bool, []any, map[string]any) and must not
// mutate the sibling map.
type DeriveFunc func(siblings map[string]any) any

// Default describes the fallback-synthesis strategy for one field.
type Default struct {
	Kind   DefaultKind
	Value  any
	Derive DeriveFunc
	// Needs lists the canonical sibling field names a derived default
	// reads. Register rejects names that do not exist.
	Needs []string
}

// Zero returns the zero-value strategy. It is also the implicit
// strategy for fields that declare none.
func Zero() Default {
	return Default{Kind: DefaultZero}
}

// Literal returns a fixed-value strategy.
func Literal(v any) Default {
	return Default{Kind: DefaultLiteral, Value: v}
}

// Derived returns a computed-value strategy. The named siblings must
// be canonical field names of the same object.
func Derived(fn DeriveFunc, needs ...string) Default {
	return Default{Kind: DefaultDerived, Derive: fn, Needs: needs}
}

// FieldSpec describes one expected field of a record kind: its
// canonical name, accepted aliases, type, constraints, and the
// strategy used to synthesize it when the generator failed to supply
// a usable value.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
	Aliases  []string
	Default  Default

	// Enum fields. Values is the canonical set, Synonyms maps
	// observed spellings onto it, and EnumFallback is substituted
	// when nothing matches.
	Values       []string
	Synonyms     map[string]string
	EnumFallback string

	// Numeric bounds, inclusive. Only valid on int and float fields.
	Min *float64
	Max *float64

	// Length bounds for strings and lists. Zero means unconstrained.
	MinLen int
	MaxLen int

	// Elem describes the element type of a list field.
	Elem *FieldSpec

	// Fields describes the children of an object field.
	Fields []FieldSpec

	// ScalarKey names the string child a bare scalar collapses into
	// when one appears where this object was expected.
	ScalarKey string

	// Millis marks an int field holding a duration in milliseconds.
	// Duration-like strings such as "3.5s" or "1500ms" are converted
	// during normalization.
	Millis bool

	// Canon rewrites present string values into canonical form, e.g.
	// upper-casing sound cue names. Applied during normalization.
	Canon func(string) string

	// AbsorbRaw marks the string field that receives the raw input
	// text when fallback synthesis has nothing else to work with, so
	// no information is silently lost.
	AbsorbRaw bool
}

// Descriptor declares the full shape of one record kind.
type Descriptor struct {
	Kind   Kind
	Fields []FieldSpec
}

// Bound returns a pointer to v for use as a Min or Max constraint.
func Bound(v float64) *float64 {
	return &v
}

// foldKey lowercases a field name or enum token and strips separator
// characters so that "Scene-Type", "scene type" and "scene_type" all
// compare equal.
func foldKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case '_', '-', ' ':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Field returns the spec with the exact canonical name, or nil.
func (d *Descriptor) Field(name string) *FieldSpec {
	return fieldByName(d.Fields, name)
}

// Resolve returns the spec whose canonical name or alias matches key,
// ignoring case and separator style. Returns nil when nothing matches.
func (d *Descriptor) Resolve(key string) *FieldSpec {
	return ResolveField(d.Fields, key)
}

// Child resolves key against an object field's children the same way
// Descriptor.Resolve does.
func (f *FieldSpec) Child(key string) *FieldSpec {
	return ResolveField(f.Fields, key)
}

// ResolveField resolves key against an arbitrary field list, exact
// canonical name first, then folded names and aliases. The normalizer
// uses it while walking nested object specs.
func ResolveField(fields []FieldSpec, key string) *FieldSpec {
	return resolveField(fields, key)
}

// ResolveEnum maps an observed token onto the canonical enum set,
// first against the canonical values themselves and then through the
// synonym table. The second return is false when nothing matched and
// the caller should substitute EnumFallback.
func (f *FieldSpec) ResolveEnum(token string) (string, bool) {
	folded := foldKey(token)
	for _, v := range f.Values {
		if foldKey(v) == folded {
			return v, true
		}
	}
	for observed, canonical := range f.Synonyms {
		if foldKey(observed) == folded {
			return canonical, true
		}
	}
	return "", false
}

func fieldByName(fields []FieldSpec, name string) *FieldSpec {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

func resolveField(fields []FieldSpec, key string) *FieldSpec {
	if f := fieldByName(fields, key); f != nil {
		return f
	}
	folded := foldKey(key)
	for i := range fields {
		if foldKey(fields[i].Name) == folded {
			return &fields[i]
		}
		for _, alias := range fields[i].Aliases {
			if foldKey(alias) == folded {
				return &fields[i]
			}
		}
	}
	return nil
}
