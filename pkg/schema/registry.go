package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotRegistered reports a lookup for a kind that was never
	// registered.
	ErrNotRegistered = errors.New("schema kind not registered")
	// ErrAlreadyRegistered reports a second registration for a kind.
	ErrAlreadyRegistered = errors.New("schema kind already registered")
)

var (
	registryMu  sync.RWMutex
	descriptors = map[Kind]*Descriptor{}
)

// Register validates the descriptor and adds it to the process-wide
// registry. Registration happens once at process start; descriptors
// must not be mutated afterwards.
func Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := descriptors[d.Kind]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, d.Kind)
	}
	descriptors[d.Kind] = d
	return nil
}

// MustRegister is Register for startup paths where a bad descriptor
// should halt the process.
func MustRegister(d *Descriptor) {
	if err := Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the registered descriptor for kind.
func Lookup(kind Kind) (*Descriptor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := descriptors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, kind)
	}
	return d, nil
}

// Registered reports whether d is the descriptor registered under its
// kind. The pipeline uses this to reject descriptors that bypassed
// registration and its consistency checks.
func Registered(d *Descriptor) bool {
	if d == nil {
		return false
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	return descriptors[d.Kind] == d
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Kind, 0, len(descriptors))
	for kind := range descriptors {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
