package ingest

// Provenance records how much recovery work a record needed. The
// ordering is meaningful: a heavier tag means more of the pipeline had
// to act to produce the result.
type Provenance int

const (
	// ProvenanceDirect means the input parsed and validated as-is.
	ProvenanceDirect Provenance = iota
	// ProvenanceRepaired means syntactic repair transforms fired.
	ProvenanceRepaired
	// ProvenanceNormalized means field names, enum values or types
	// had to be rewritten.
	ProvenanceNormalized
	// ProvenanceFallback means validation failed and the record was
	// completed by synthesis.
	ProvenanceFallback
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceDirect:
		return "direct"
	case ProvenanceRepaired:
		return "repaired"
	case ProvenanceNormalized:
		return "normalized"
	case ProvenanceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}
