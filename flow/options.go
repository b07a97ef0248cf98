package flow

import (
	"github.com/nanoflow-dev/nanoflow/flow/emit"
	"github.com/nanoflow-dev/nanoflow/flow/metrics"
)

// Option is a functional option for New.
type Option func(*flowConfig) error

// flowConfig collects options before New applies them.
type flowConfig struct {
	flowName      string
	dbPath        string
	checkpointDir string
	maxSteps      int
	db            WorkflowDB
	emitter       emit.Emitter
	recorder      *metrics.Recorder
}

const defaultMaxSteps = 10_000

// sqliteOpener is registered by flow/db's init() so WithDBPath can open a
// SQLiteDB without this package importing flow/db directly (flow/db
// already imports flow for the WorkflowDB/Store types, so the reverse
// import would cycle). Callers that use WithDBPath must import flow/db
// (even with a blank import) so the opener is registered before New runs,
// the same pattern database/sql uses for drivers.
var sqliteOpener func(path string) (WorkflowDB, error)

// RegisterSQLiteOpener installs the function WithDBPath uses to open a
// SQLite-backed WorkflowDB. Called from flow/db's init(); not intended for
// direct use by other callers.
func RegisterSQLiteOpener(opener func(path string) (WorkflowDB, error)) {
	sqliteOpener = opener
}

func defaultConfig() flowConfig {
	return flowConfig{
		maxSteps: defaultMaxSteps,
		emitter:  emit.NewNullEmitter(),
	}
}

// WithFlowName sets the Flow's display name, used as the run_id prefix.
// Defaults to the start Node's name.
func WithFlowName(name string) Option {
	return func(c *flowConfig) error {
		c.flowName = name
		return nil
	}
}

// WithDBPath opens (or creates) a SQLite-backed WorkflowDB at path. Either
// WithDBPath or WithWorkflowDB may be used, not both.
func WithDBPath(path string) Option {
	return func(c *flowConfig) error {
		if c.db != nil {
			return errInvalidArg("", "db_path set after an explicit WorkflowDB was already provided")
		}
		c.dbPath = path
		return nil
	}
}

// WithWorkflowDB installs an already-constructed WorkflowDB (e.g. a
// db.MemoryDB in tests). Either this or WithDBPath may be used, not both.
func WithWorkflowDB(wdb WorkflowDB) Option {
	return func(c *flowConfig) error {
		if c.dbPath != "" {
			return errInvalidArg("", "WorkflowDB set after db_path was already provided")
		}
		c.db = wdb
		return nil
	}
}

// WithCheckpointDir enables writing a JSON snapshot per step, named
// step_{step:03d}_{NodeName}.json, in addition to the database checkpoint
// row.
func WithCheckpointDir(dir string) Option {
	return func(c *flowConfig) error {
		c.checkpointDir = dir
		return nil
	}
}

// WithMaxSteps bounds the scheduler loop; reaching it while a successor
// node is still pending fails the run with MaxStepsExceeded. A limit of 0
// runs no node and completes the run. Default 10,000.
func WithMaxSteps(n int) Option {
	return func(c *flowConfig) error {
		if n < 0 {
			return errInvalidArg("", "max_steps must be >= 0, got %d", n)
		}
		c.maxSteps = n
		return nil
	}
}

// WithEmitter installs the observability sink. Default is emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(c *flowConfig) error {
		c.emitter = e
		return nil
	}
}

// WithMetrics installs a Prometheus recorder. Optional; a Flow with none
// configured runs with zero metrics overhead.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *flowConfig) error {
		c.recorder = r
		return nil
	}
}
