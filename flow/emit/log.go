package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable text
// or as JSON Lines.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, `{"error":"failed to marshal event: %v"}`+"\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] run_id=%s", event.Msg, event.RunID)
	if event.NodeName != "" {
		_, _ = fmt.Fprintf(l.writer, " node=%s", event.NodeName)
	}
	if event.Action != "" {
		_, _ = fmt.Fprintf(l.writer, " action=%s", event.Action)
	}
	if event.ElapsedMs != 0 {
		_, _ = fmt.Fprintf(l.writer, " elapsed_ms=%.2f", event.ElapsedMs)
	}
	if event.Err != "" {
		_, _ = fmt.Fprintf(l.writer, " error=%q", event.Err)
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously and keeps no buffer.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
