package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, grouped by RunID, and offers
// simple query helpers. Used by tests that assert on the exact sequence
// of events a run produced.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		b.events[e.RunID] = append(b.events[e.RunID], e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of the events recorded for runID, in emit order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.events[runID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Clear removes events for runID, or all events if runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
