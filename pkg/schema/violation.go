package schema

import "fmt"

// ViolationKind classifies why a field failed validation.
type ViolationKind int

const (
	ViolationMissing ViolationKind = iota
	ViolationWrongType
	ViolationOutOfRange
	ViolationInvalidEnum
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationMissing:
		return "missing"
	case ViolationWrongType:
		return "wrong_type"
	case ViolationOutOfRange:
		return "out_of_range"
	case ViolationInvalidEnum:
		return "invalid_enum"
	default:
		return "unknown"
	}
}

// Violation records one validation failure. Violations are consumed by
// fallback synthesis and by diagnostics; they are never surfaced to
// callers as errors.
type Violation struct {
	Path   string
	Kind   ViolationKind
	Detail string
}

func (v Violation) String() string {
	if v.Detail == "" {
		return fmt.Sprintf("%s: %s", v.Path, v.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", v.Path, v.Kind, v.Detail)
}
