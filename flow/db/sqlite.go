// Package db provides WorkflowDB implementations: SQLiteDB for production
// use and MemoryDB as a test double. Both satisfy flow.WorkflowDB.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/nanoflow-dev/nanoflow/flow"
	_ "modernc.org/sqlite"
)

var _ flow.WorkflowDB = (*SQLiteDB)(nil)

func init() {
	flow.RegisterSQLiteOpener(func(path string) (flow.WorkflowDB, error) {
		return NewSQLiteDB(path)
	})
}

// SQLiteDB is a SQLite-backed flow.WorkflowDB. It opens in WAL mode with a
// bounded busy timeout so the monitor collaborator can read concurrently
// while a run is in progress, matching spec §4.4 and §5.
type SQLiteDB struct {
	db   *sql.DB
	wmu  sync.Mutex // serializes writers beyond what SetMaxOpenConns(1) already does
	path string
}

// NewSQLiteDB opens (creating if absent) a WorkflowDB at path.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite supports exactly one writer; pin the pool to it so WAL mode's
	// single-writer/many-reader model matches the connection model.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqldb.ExecContext(ctx, pragma); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	s := &SQLiteDB{db: sqldb, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pf_runs (
			run_id TEXT PRIMARY KEY,
			flow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at REAL NOT NULL,
			ended_at REAL,
			total_steps INTEGER NOT NULL DEFAULT 0,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pf_checkpoints (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_name TEXT NOT NULL,
			store_json TEXT NOT NULL,
			created_at REAL NOT NULL,
			PRIMARY KEY(run_id, step)
		)`,
		`CREATE TABLE IF NOT EXISTS pf_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event TEXT NOT NULL,
			node_name TEXT,
			action TEXT,
			elapsed_ms REAL,
			error TEXT,
			created_at REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pf_checkpoints_run ON pf_checkpoints(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pf_events_run ON pf_events(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDB) CreateRun(runID, flowName string, startedAt float64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO pf_runs (run_id, flow_name, status, started_at, total_steps) VALUES (?, ?, 'running', ?, 0)
		 ON CONFLICT(run_id) DO NOTHING`,
		runID, flowName, startedAt,
	)
	if err != nil {
		return fmt.Errorf("create_run: %w", err)
	}
	return nil
}

func (s *SQLiteDB) UpdateRunStatus(runID, status string, endedAt float64, totalSteps int, errMsg string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.Exec(
		`UPDATE pf_runs SET status = ?, ended_at = ?, total_steps = ?, error = ? WHERE run_id = ?`,
		status, endedAt, totalSteps, nullableString(errMsg), runID,
	)
	if err != nil {
		return fmt.Errorf("update_run_status: %w", err)
	}
	return nil
}

func (s *SQLiteDB) InsertEvent(runID, event, nodeName, action string, elapsedMs float64, errMsg string, createdAt float64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.insertEventTx(s.db, runID, event, nodeName, action, elapsedMs, errMsg, createdAt)
}

func (s *SQLiteDB) insertEventTx(execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}, runID, event, nodeName, action string, elapsedMs float64, errMsg string, createdAt float64) error {
	_, err := execer.Exec(
		`INSERT INTO pf_events (run_id, event, node_name, action, elapsed_ms, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, event, nullableString(nodeName), nullableString(action), elapsedMs, nullableString(errMsg), createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert_event: %w", err)
	}
	return nil
}

func (s *SQLiteDB) WriteCheckpoint(runID string, step int, nodeName, storeJSON string, createdAt float64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO pf_checkpoints (run_id, step, node_name, store_json, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step) DO UPDATE SET node_name = excluded.node_name, store_json = excluded.store_json, created_at = excluded.created_at`,
		runID, step, nodeName, storeJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("write_checkpoint: %w", err)
	}
	return nil
}

// RecordNodeEnd performs the checkpoint write, node_end event insert, and
// total_steps update in a single transaction so a reader of pf_events
// never observes a node_end without its corresponding checkpoint already
// durable (spec §5's ordering guarantee).
func (s *SQLiteDB) RecordNodeEnd(runID string, step int, nodeName, storeJSON, action string, elapsedMs float64, totalSteps int, createdAt float64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("record_node_end: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(
		`INSERT INTO pf_checkpoints (run_id, step, node_name, store_json, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step) DO UPDATE SET node_name = excluded.node_name, store_json = excluded.store_json, created_at = excluded.created_at`,
		runID, step, nodeName, storeJSON, createdAt,
	); err != nil {
		return fmt.Errorf("record_node_end: checkpoint: %w", err)
	}

	if err := s.insertEventTx(tx, runID, "node_end", nodeName, action, elapsedMs, "", createdAt); err != nil {
		return fmt.Errorf("record_node_end: %w", err)
	}

	if _, err := tx.Exec(`UPDATE pf_runs SET total_steps = ? WHERE run_id = ?`, totalSteps, runID); err != nil {
		return fmt.Errorf("record_node_end: total_steps: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteDB) ListRuns() ([]flow.RunRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, flow_name, status, started_at, ended_at, total_steps, error FROM pf_runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list_runs: %w", err)
	}
	defer rows.Close()

	var out []flow.RunRow
	for rows.Next() {
		var r flow.RunRow
		var ended sql.NullFloat64
		var errMsg sql.NullString
		if err := rows.Scan(&r.RunID, &r.FlowName, &r.Status, &r.StartedAt, &ended, &r.TotalSteps, &errMsg); err != nil {
			return nil, fmt.Errorf("list_runs: scan: %w", err)
		}
		if ended.Valid {
			v := ended.Float64
			r.EndedAt = &v
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) GetEvents(runID string) ([]flow.EventRow, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, event, node_name, action, elapsed_ms, error, created_at FROM pf_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get_events: %w", err)
	}
	defer rows.Close()

	var out []flow.EventRow
	for rows.Next() {
		var e flow.EventRow
		var nodeName, action, errMsg sql.NullString
		var elapsed sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &nodeName, &action, &elapsed, &errMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("get_events: scan: %w", err)
		}
		e.NodeName = nodeName.String
		e.Action = action.String
		e.ElapsedMs = elapsed.Float64
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) GetCheckpoints(runID string) ([]flow.CheckpointRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, step, node_name, store_json, created_at FROM pf_checkpoints WHERE run_id = ? ORDER BY step ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get_checkpoints: %w", err)
	}
	defer rows.Close()

	var out []flow.CheckpointRow
	for rows.Next() {
		var c flow.CheckpointRow
		if err := rows.Scan(&c.RunID, &c.Step, &c.NodeName, &c.StoreJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("get_checkpoints: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) LoadCheckpoint(runID string, step int) (*flow.Store, error) {
	var storeJSON string
	err := s.db.QueryRow(
		`SELECT store_json FROM pf_checkpoints WHERE run_id = ? AND step = ?`,
		runID, step,
	).Scan(&storeJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("load_checkpoint: no checkpoint at run_id=%s step=%d", runID, step)
	}
	if err != nil {
		return nil, fmt.Errorf("load_checkpoint: %w", err)
	}
	return flow.FromJSON([]byte(storeJSON))
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Path returns the database file path this SQLiteDB was opened with.
func (s *SQLiteDB) Path() string {
	return s.path
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
