package emit

import "context"

// Emitter receives lifecycle events from a running Flow. It is the
// injectable observability sink referenced by the core's scope: the Flow
// invokes caller hooks directly for application logic, and separately
// emits one Event per hook firing to whatever Emitter is configured.
//
// Implementations must not block the run for long and must not panic.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
