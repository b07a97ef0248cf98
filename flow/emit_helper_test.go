package flow_test

import (
	"context"
	"sync"

	"github.com/nanoflow-dev/nanoflow/flow/emit"
)

// allRunsEmitter records every event emitted across however many run_ids a
// test touches, since Flow.Run doesn't hand back its generated run_id.
type allRunsEmitter struct {
	mu     sync.Mutex
	events []emit.Event
}

func newBufferedEmitter() *allRunsEmitter {
	return &allRunsEmitter{}
}

func (a *allRunsEmitter) Emit(e emit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *allRunsEmitter) EmitBatch(_ context.Context, events []emit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, events...)
	return nil
}

func (a *allRunsEmitter) Flush(context.Context) error { return nil }

func (a *allRunsEmitter) history() []emit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]emit.Event, len(a.events))
	copy(out, a.events)
	return out
}
