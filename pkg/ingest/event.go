package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

// Event is the diagnostic record emitted once per pipeline invocation.
// It is consumed by observability code and never interpreted by the
// pipeline itself.
type Event struct {
	ID           string
	Schema       schema.Kind
	Provenance   Provenance
	Method       string
	Unterminated bool
	Repairs      []string
	Violations   []schema.Violation
	Elapsed      time.Duration
}

// Observer receives pipeline events. Implementations must be safe for
// concurrent use; events arrive from every goroutine that ingests.
type Observer interface {
	ObserveIngest(ctx context.Context, event Event)
}

var (
	observerMu sync.RWMutex
	observer   Observer
)

// SetObserver installs the process-wide event observer. Install it
// once at startup, before pipeline invocations begin.
func SetObserver(o Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()

	observer = o
}

func GetObserver() Observer {
	observerMu.RLock()
	defer observerMu.RUnlock()

	return observer
}

func emitEvent(ctx context.Context, event Event) {
	if o := GetObserver(); o != nil {
		o.ObserveIngest(ctx, event)
	}
}
