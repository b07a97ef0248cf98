package flow

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nanoflow-dev/nanoflow/flow/emit"
	"github.com/nanoflow-dev/nanoflow/flow/metrics"
)

// Hook event names, exactly as named in the library surface.
const (
	EventFlowStart = "flow_start"
	EventNodeStart = "node_start"
	EventNodeEnd   = "node_end"
	EventNodeError = "node_error"
	EventFlowEnd   = "flow_end"

	// EventObserverPanic is emitted when a Store observer panics; it has
	// no corresponding On hook, since it is diagnostic rather than part of
	// the library's documented lifecycle surface.
	EventObserverPanic = "observer_panic"
)

// Hook signatures. These are type aliases (not distinct named types) so a
// bare func literal passed to On can be type-asserted back out of the
// `any` parameter without requiring an explicit conversion at call sites.
type (
	FlowStartHook = func(flowName string, store *Store)
	NodeStartHook = func(nodeName string, store *Store)
	NodeEndHook   = func(nodeName, action string, elapsedSeconds float64, store *Store)
	NodeErrorHook = func(nodeName string, err error, store *Store)
	FlowEndHook   = func(totalSteps int, store *Store)
)

// Flow composes Nodes into a directed graph and steps through them along
// named-action edges, persisting checkpoints and an event log to a
// WorkflowDB and emitting lifecycle events to an Emitter.
type Flow struct {
	start         *Node
	flowName      string
	checkpointDir string
	maxSteps      int
	db            WorkflowDB
	emitter       emit.Emitter
	recorder      *metrics.Recorder

	mu             sync.RWMutex
	hooksFlowStart []FlowStartHook
	hooksNodeStart []NodeStartHook
	hooksNodeEnd   []NodeEndHook
	hooksNodeError []NodeErrorHook
	hooksFlowEnd   []FlowEndHook
}

// New constructs a Flow starting at start. A zero-value configuration
// falls back to an unbounded-enough max_steps, a null emitter, and an
// internal in-memory WorkflowDB (see memdb.go).
func New(start *Node, opts ...Option) (*Flow, error) {
	if start == nil {
		return nil, errInvalidArg("", "start node is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	flowName := cfg.flowName
	if flowName == "" {
		flowName = start.Name
	}

	wdb := cfg.db
	if wdb == nil && cfg.dbPath != "" {
		if sqliteOpener == nil {
			return nil, errInvalidArg("", "db_path given but no sqlite opener is registered (import flow/db)")
		}
		opened, err := sqliteOpener(cfg.dbPath)
		if err != nil {
			return nil, errIOError(err, "open workflow db %s", cfg.dbPath)
		}
		wdb = opened
	}
	if wdb == nil {
		wdb = newMemDB()
	}

	return &Flow{
		start:         start,
		flowName:      flowName,
		checkpointDir: cfg.checkpointDir,
		maxSteps:      cfg.maxSteps,
		db:            wdb,
		emitter:       cfg.emitter,
		recorder:      cfg.recorder,
	}, nil
}

// On registers a hook for eventName. Valid names are EventFlowStart,
// EventNodeStart, EventNodeEnd, EventNodeError, EventFlowEnd; an unknown
// name, or a callback with the wrong signature, fails with InvalidArg.
func (f *Flow) On(eventName string, callback any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch eventName {
	case EventFlowStart:
		fn, ok := callback.(FlowStartHook)
		if !ok {
			return errInvalidArg("", "flow_start hook must be func(string, *Store)")
		}
		f.hooksFlowStart = append(f.hooksFlowStart, fn)
	case EventNodeStart:
		fn, ok := callback.(NodeStartHook)
		if !ok {
			return errInvalidArg("", "node_start hook must be func(string, *Store)")
		}
		f.hooksNodeStart = append(f.hooksNodeStart, fn)
	case EventNodeEnd:
		fn, ok := callback.(NodeEndHook)
		if !ok {
			return errInvalidArg("", "node_end hook must be func(string, string, float64, *Store)")
		}
		f.hooksNodeEnd = append(f.hooksNodeEnd, fn)
	case EventNodeError:
		fn, ok := callback.(NodeErrorHook)
		if !ok {
			return errInvalidArg("", "node_error hook must be func(string, error, *Store)")
		}
		f.hooksNodeError = append(f.hooksNodeError, fn)
	case EventFlowEnd:
		fn, ok := callback.(FlowEndHook)
		if !ok {
			return errInvalidArg("", "flow_end hook must be func(int, *Store)")
		}
		f.hooksFlowEnd = append(f.hooksFlowEnd, fn)
	default:
		return errInvalidArg("", "unknown hook event %q", eventName)
	}
	return nil
}

// Run executes the flow synchronously on the calling goroutine, starting
// at resumeFrom if non-nil, otherwise at the Flow's start node.
func (f *Flow) Run(store *Store, resumeFrom *Node) (*Store, error) {
	runID := newRunID(f.flowName)
	_, err := f.run(context.Background(), runID, store, resumeFrom, nil)
	return store, err
}

// newRunID constructs "<flow_name>-<8-hex-random>".
func newRunID(flowName string) string {
	id := uuid.New()
	suffix := hex.EncodeToString(id[:4])
	return fmt.Sprintf("%s-%s", flowName, suffix)
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// run is the scheduler loop shared by Run and RunBackground. cancelFlag
// is nil for foreground runs; RunBackground supplies one checked once per
// iteration, between node completions.
func (f *Flow) run(ctx context.Context, runID string, store *Store, resumeFrom *Node, cancelFlag *cancelToken) (*Store, error) {
	store.panicSink = func(key string, recovered any) {
		f.emit(emit.Event{
			RunID:    runID,
			FlowName: f.flowName,
			Msg:      EventObserverPanic,
			Err:      fmt.Sprintf("%v", recovered),
			Meta:     map[string]any{"key": key},
		})
	}

	startedAt := nowUnix()

	if err := f.db.CreateRun(runID, f.flowName, startedAt); err != nil {
		return store, errIOError(err, "create_run")
	}
	if err := f.db.InsertEvent(runID, EventFlowStart, "", "", 0, "", startedAt); err != nil {
		return store, errIOError(err, "insert flow_start event")
	}
	f.fireFlowStart(f.flowName, store)
	f.emit(emit.Event{RunID: runID, FlowName: f.flowName, Msg: EventFlowStart})

	if f.recorder != nil {
		f.recorder.RunStarted()
		defer f.recorder.RunFinished()
	}

	current := f.start
	if resumeFrom != nil {
		current = resumeFrom
	}
	step := 0
	lastAction := ""

	for current != nil && step < f.maxSteps {
		if cancelFlag != nil && cancelFlag.requested() {
			f.finishCancelled(runID, step)
			return store, nil
		}

		if err := current.validate(); err != nil {
			f.finishFailed(runID, step, lastAction, err)
			return store, err
		}

		f.fireNodeStart(current.Name, store)
		f.emit(emit.Event{RunID: runID, FlowName: f.flowName, Step: step, NodeName: current.Name, Msg: EventNodeStart})
		if err := f.db.InsertEvent(runID, EventNodeStart, current.Name, "", 0, "", nowUnix()); err != nil {
			wrapped := errIOError(err, "insert node_start event")
			f.finishFailed(runID, step, lastAction, wrapped)
			return store, wrapped
		}

		startTime := time.Now()
		action, err := current.run(ctx, store)
		elapsed := time.Since(startTime)
		elapsedMs := float64(elapsed.Microseconds()) / 1000.0

		if err != nil {
			f.fireNodeError(current.Name, err, store)
			f.emit(emit.Event{RunID: runID, FlowName: f.flowName, Step: step, NodeName: current.Name, Msg: EventNodeError, Err: err.Error()})
			f.finishFailed(runID, step, lastAction, err)
			return store, err
		}

		storeJSON, jerr := store.ToJSON()
		if jerr != nil {
			wrapped := errIOError(jerr, "marshal store for checkpoint")
			f.finishFailed(runID, step, lastAction, wrapped)
			return store, wrapped
		}

		if f.checkpointDir != "" {
			path := filepath.Join(f.checkpointDir, fmt.Sprintf("step_%03d_%s.json", step, current.Name))
			if err := store.Snapshot(path); err != nil {
				f.finishFailed(runID, step, lastAction, err)
				return store, err
			}
		}

		totalSteps := step + 1
		if err := f.db.RecordNodeEnd(runID, step, current.Name, string(storeJSON), action, elapsedMs, totalSteps, nowUnix()); err != nil {
			wrapped := errIOError(err, "record node_end")
			f.finishFailed(runID, step, lastAction, wrapped)
			return store, wrapped
		}

		if f.recorder != nil {
			f.recorder.RecordStep(f.flowName, current.Name, "success", elapsedMs)
		}

		f.fireNodeEnd(current.Name, action, elapsed.Seconds(), store)
		f.emit(emit.Event{RunID: runID, FlowName: f.flowName, Step: step, NodeName: current.Name, Msg: EventNodeEnd, Action: action, ElapsedMs: elapsedMs})

		lastAction = action
		current = current.edges.resolve(action)
		step++
	}

	if current != nil && f.maxSteps > 0 && step >= f.maxSteps {
		err := errMaxStepsExceeded(f.maxSteps)
		f.finishFailed(runID, step, lastAction, err)
		return store, err
	}

	f.finishCompleted(runID, step, lastAction, store)
	return store, nil
}

func (f *Flow) finishCompleted(runID string, totalSteps int, lastAction string, store *Store) {
	now := nowUnix()
	_ = f.db.UpdateRunStatus(runID, "completed", now, totalSteps, "")
	_ = f.db.InsertEvent(runID, EventFlowEnd, "", lastAction, 0, "", now)
	f.fireFlowEnd(totalSteps, store)
	f.emit(emit.Event{RunID: runID, FlowName: f.flowName, Step: totalSteps, Msg: EventFlowEnd, Action: lastAction})
}

func (f *Flow) finishFailed(runID string, totalSteps int, lastAction string, cause error) {
	now := nowUnix()
	_ = f.db.UpdateRunStatus(runID, "failed", now, totalSteps, cause.Error())
	_ = f.db.InsertEvent(runID, "flow_error", "", lastAction, 0, cause.Error(), now)
	f.emit(emit.Event{RunID: runID, FlowName: f.flowName, Step: totalSteps, Msg: "flow_error", Err: cause.Error()})
}

func (f *Flow) finishCancelled(runID string, totalSteps int) {
	now := nowUnix()
	_ = f.db.UpdateRunStatus(runID, "cancelled", now, totalSteps, "")
	_ = f.db.InsertEvent(runID, "flow_cancel", "", "", 0, "", now)
	f.emit(emit.Event{RunID: runID, FlowName: f.flowName, Step: totalSteps, Msg: "flow_cancel"})
}

func (f *Flow) emit(e emit.Event) {
	if f.emitter == nil {
		return
	}
	f.emitter.Emit(e)
}

func (f *Flow) fireFlowStart(flowName string, store *Store) {
	f.mu.RLock()
	hooks := f.hooksFlowStart
	f.mu.RUnlock()
	for _, h := range hooks {
		h(flowName, store)
	}
}

func (f *Flow) fireNodeStart(nodeName string, store *Store) {
	f.mu.RLock()
	hooks := f.hooksNodeStart
	f.mu.RUnlock()
	for _, h := range hooks {
		h(nodeName, store)
	}
}

func (f *Flow) fireNodeEnd(nodeName, action string, elapsedSeconds float64, store *Store) {
	f.mu.RLock()
	hooks := f.hooksNodeEnd
	f.mu.RUnlock()
	for _, h := range hooks {
		h(nodeName, action, elapsedSeconds, store)
	}
}

func (f *Flow) fireNodeError(nodeName string, err error, store *Store) {
	f.mu.RLock()
	hooks := f.hooksNodeError
	f.mu.RUnlock()
	for _, h := range hooks {
		h(nodeName, err, store)
	}
}

func (f *Flow) fireFlowEnd(totalSteps int, store *Store) {
	f.mu.RLock()
	hooks := f.hooksFlowEnd
	f.mu.RUnlock()
	for _, h := range hooks {
		h(totalSteps, store)
	}
}

// DB exposes the Flow's WorkflowDB, e.g. so a caller can list runs or load
// a checkpoint to build a resume_from Store.
func (f *Flow) DB() WorkflowDB {
	return f.db
}

// RunBackground starts the flow on a dedicated worker goroutine and
// returns immediately with a RunHandle. Exactly one goroutine services the
// handle; the Store is not shared with the caller until wait returns it.
func (f *Flow) RunBackground(store *Store, resumeFrom *Node) (*RunHandle, error) {
	if store == nil {
		return nil, errInvalidArg("", "store is required")
	}

	runID := newRunID(f.flowName)
	h := &RunHandle{
		runID:  runID,
		db:     f.db,
		cancel: &cancelToken{},
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		resultStore, err := f.run(context.Background(), runID, store, resumeFrom, h.cancel)
		h.mu.Lock()
		h.resultStore = resultStore
		h.resultErr = err
		h.mu.Unlock()
	}()

	return h, nil
}
