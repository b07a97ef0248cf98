package db

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nanoflow-dev/nanoflow/flow"
)

var _ flow.WorkflowDB = (*MemoryDB)(nil)

// MemoryDB is an in-memory flow.WorkflowDB. It is useful for tests and
// short CLI demos where a database file is unwanted; it satisfies every
// invariant in spec §3 except that its write-ahead/concurrent-reader
// characteristics are trivially true (single process, no file, reads and
// writes share one mutex).
type MemoryDB struct {
	mu          sync.RWMutex
	runs        map[string]*flow.RunRow
	runOrder    []string
	events      map[string][]flow.EventRow
	checkpoints map[string][]flow.CheckpointRow
	nextEventID int64
}

// NewMemoryDB creates an empty in-memory WorkflowDB.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		runs:        make(map[string]*flow.RunRow),
		events:      make(map[string][]flow.EventRow),
		checkpoints: make(map[string][]flow.CheckpointRow),
	}
}

func (m *MemoryDB) CreateRun(runID, flowName string, startedAt float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[runID]; exists {
		return nil
	}
	m.runs[runID] = &flow.RunRow{
		RunID:     runID,
		FlowName:  flowName,
		Status:    "running",
		StartedAt: startedAt,
	}
	m.runOrder = append(m.runOrder, runID)
	return nil
}

func (m *MemoryDB) UpdateRunStatus(runID, status string, endedAt float64, totalSteps int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("update_run_status: unknown run_id %s", runID)
	}
	r.Status = status
	ended := endedAt
	r.EndedAt = &ended
	r.TotalSteps = totalSteps
	r.Error = errMsg
	return nil
}

func (m *MemoryDB) InsertEvent(runID, event, nodeName, action string, elapsedMs float64, errMsg string, createdAt float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEventLocked(runID, event, nodeName, action, elapsedMs, errMsg, createdAt)
	return nil
}

func (m *MemoryDB) appendEventLocked(runID, event, nodeName, action string, elapsedMs float64, errMsg string, createdAt float64) {
	m.nextEventID++
	m.events[runID] = append(m.events[runID], flow.EventRow{
		ID:        m.nextEventID,
		RunID:     runID,
		Event:     event,
		NodeName:  nodeName,
		Action:    action,
		ElapsedMs: elapsedMs,
		Error:     errMsg,
		CreatedAt: createdAt,
	})
}

func (m *MemoryDB) WriteCheckpoint(runID string, step int, nodeName, storeJSON string, createdAt float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCheckpointLocked(runID, step, nodeName, storeJSON, createdAt)
	return nil
}

func (m *MemoryDB) writeCheckpointLocked(runID string, step int, nodeName, storeJSON string, createdAt float64) {
	rows := m.checkpoints[runID]
	for i, row := range rows {
		if row.Step == step {
			rows[i] = flow.CheckpointRow{RunID: runID, Step: step, NodeName: nodeName, StoreJSON: storeJSON, CreatedAt: createdAt}
			return
		}
	}
	m.checkpoints[runID] = append(rows, flow.CheckpointRow{
		RunID: runID, Step: step, NodeName: nodeName, StoreJSON: storeJSON, CreatedAt: createdAt,
	})
}

// RecordNodeEnd is a single critical section covering the checkpoint
// write, the node_end event append, and the total_steps update — the
// in-memory analogue of SQLiteDB's one-transaction guarantee.
func (m *MemoryDB) RecordNodeEnd(runID string, step int, nodeName, storeJSON, action string, elapsedMs float64, totalSteps int, createdAt float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCheckpointLocked(runID, step, nodeName, storeJSON, createdAt)
	m.appendEventLocked(runID, "node_end", nodeName, action, elapsedMs, "", createdAt)

	if r, ok := m.runs[runID]; ok {
		r.TotalSteps = totalSteps
	}
	return nil
}

func (m *MemoryDB) ListRuns() ([]flow.RunRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]flow.RunRow, 0, len(m.runOrder))
	for _, id := range m.runOrder {
		out = append(out, *m.runs[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return out, nil
}

func (m *MemoryDB) GetEvents(runID string) ([]flow.EventRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.events[runID]
	out := make([]flow.EventRow, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryDB) GetCheckpoints(runID string) ([]flow.CheckpointRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := make([]flow.CheckpointRow, len(m.checkpoints[runID]))
	copy(src, m.checkpoints[runID])
	sort.Slice(src, func(i, j int) bool { return src[i].Step < src[j].Step })
	return src, nil
}

func (m *MemoryDB) LoadCheckpoint(runID string, step int) (*flow.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.checkpoints[runID] {
		if row.Step == step {
			return flow.FromJSON([]byte(row.StoreJSON))
		}
	}
	return nil, fmt.Errorf("load_checkpoint: no checkpoint at run_id=%s step=%d", runID, step)
}

func (m *MemoryDB) Close() error {
	return nil
}
