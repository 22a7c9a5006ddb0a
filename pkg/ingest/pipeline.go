// Package ingest converts free-form generator output into records
// that satisfy a registered schema descriptor. The pipeline runs
// extraction, syntactic repair, normalization and validation in a
// fixed sequence, falling back to synthesis when validation fails, so
// malformed input degrades the result instead of failing the call.
// Every invocation is a self-contained computation over its own input;
// concurrent invocations share nothing but the immutable registry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/storyforge-ai/storyforge/pkg/logging"
	"github.com/storyforge-ai/storyforge/pkg/schema"
	"github.com/storyforge-ai/storyforge/pkg/utils"
)

// Result is the outcome of one pipeline invocation. Record always
// satisfies the descriptor; Provenance, Repairs and Violations say how
// much work that took. Violations lists what fallback synthesis had to
// absorb, never failures surfaced to the caller. Event is the same
// diagnostic record delivered to the observer.
type Result struct {
	Record     map[string]any
	Provenance Provenance
	Repairs    []string
	Violations []schema.Violation
	Event      Event
}

// Process converts raw generator output into a record satisfying the
// registered descriptor. It is total over the input: malformed text is
// repaired, normalized or replaced by synthesis, never rejected. The
// only errors it returns are configuration bugs, a nil or unregistered
// descriptor.
func Process(ctx context.Context, raw string, desc *schema.Descriptor) (*Result, error) {
	log := logging.NewLogger(ctx)

	if desc == nil {
		err := errors.New("descriptor is required")
		log.Errorf("error: %v", err)
		return nil, utils.WrapIfNotNil(err)
	}
	if !schema.Registered(desc) {
		err := fmt.Errorf("%w: %q", schema.ErrNotRegistered, desc.Kind)
		log.Errorf("error: %v", err)
		return nil, utils.WrapIfNotNil(err)
	}

	start := time.Now()
	span := extract(raw)
	log.Debugf("extracted candidate: schema=%s method=%s bytes=%d unterminated=%t",
		desc.Kind, span.method, len(span.text), span.unterminated)

	tree, repairs, repairErr := repair(span)
	if repairErr != nil {
		log.Warnf("repair exhausted: schema=%s transforms=%d, synthesizing from empty tree", desc.Kind, len(repairs))
	}

	normalized, normChanged := normalize(tree, desc)
	violations := validate(normalized, desc)

	result := &Result{Repairs: repairs, Violations: violations}
	if len(violations) > 0 || repairErr != nil {
		result.Record = fillDefaults(synthesize(normalized, desc, raw), desc.Fields)
		result.Provenance = ProvenanceFallback
	} else {
		obj, _ := normalized.(map[string]any)
		result.Record = fillDefaults(obj, desc.Fields)
		switch {
		case normChanged:
			result.Provenance = ProvenanceNormalized
		case len(repairs) > 0:
			result.Provenance = ProvenanceRepaired
		default:
			result.Provenance = ProvenanceDirect
		}
	}

	elapsed := time.Since(start)
	result.Event = Event{
		ID:           uuid.NewString(),
		Schema:       desc.Kind,
		Provenance:   result.Provenance,
		Method:       span.method.String(),
		Unterminated: span.unterminated,
		Repairs:      repairs,
		Violations:   violations,
		Elapsed:      elapsed,
	}
	emitEvent(ctx, result.Event)

	if result.Provenance == ProvenanceFallback {
		log.Warnf("ingest completed: schema=%s provenance=%s method=%s repairs=%d violations=%d elapsed=%s",
			desc.Kind, result.Provenance, span.method, len(repairs), len(violations), elapsed)
	} else {
		log.Infof("ingest completed: schema=%s provenance=%s method=%s repairs=%d elapsed=%s",
			desc.Kind, result.Provenance, span.method, len(repairs), elapsed)
	}
	return result, nil
}

// ProcessKind is Process for callers that hold only the record kind.
func ProcessKind(ctx context.Context, raw string, kind schema.Kind) (*Result, error) {
	desc, err := schema.Lookup(kind)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return Process(ctx, raw, desc)
}

// ProcessAs runs Process and binds the record onto T. A decode failure
// means T does not match the descriptor, which is a configuration bug,
// not an input problem.
func ProcessAs[T any](ctx context.Context, raw string, desc *schema.Descriptor) (T, *Result, error) {
	var out T
	result, err := Process(ctx, raw, desc)
	if err != nil {
		return out, nil, err
	}
	if err := decodeRecord(result.Record, &out); err != nil {
		return out, result, utils.WrapIfNotNil(err)
	}
	return out, result, nil
}

func decodeRecord(record map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(record)
}
