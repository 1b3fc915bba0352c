package runtime

// OperatorHandler is the lifecycle any stateful operator handler (window,
// join) exposes to the pipeline execution context that owns it.
type OperatorHandler interface {
	// Start initializes the handler against a state manager keyed by
	// pipelineID, called once before the first execute call that
	// references this handler.
	Start(stateManager StateManager, pipelineID uint64) error
	// Stop ends the handler's lifecycle, called when its pipeline is
	// withdrawn. DefaultWindowHandler and DefaultJoinHandler return nil
	// without flushing slices that are still open, and later Update or
	// Append calls on their state are not rejected.
	Stop() error
	// Trigger fires the handler's window/slice trigger policy (on-time
	// or on-record), pushing any ready results downstream.
	Trigger() error
}

// StateManager is the minimal persistence surface an operator handler
// needs for its partial-aggregate or join state; a single shared
// implementation backs every handler in a worker process.
type StateManager interface {
	Load(pipelineID uint64, key string) ([]byte, bool)
	Store(pipelineID uint64, key string, value []byte)
}

// WindowState is the partial-aggregate state a generated window-operator
// pipeline reads and mutates per tuple.
type WindowState interface {
	// Update folds a new tuple (already bound to a window key and
	// timestamp by the generated scan loop) into the partial aggregate.
	Update(windowKey string, timestamp int64, tuple []byte) error
	// Slices returns the complete window slices ready to emit.
	Slices() []WindowSlice
}

// WindowSlice is one completed window's worth of aggregated state, ready
// for the generated code's emit step.
type WindowSlice struct {
	Key       string
	StartTime int64
	EndTime   int64
	Data      []byte
}

// JoinState is the per-key append-list state a generated join-operator
// pipeline pushes left/right tuples into under a shared window.
type JoinState interface {
	AppendLeft(key string, windowStart, windowEnd int64, tuple []byte) error
	AppendRight(key string, windowStart, windowEnd int64, tuple []byte) error
	Matches(windowStart, windowEnd int64) [][2][]byte
}

// WindowHandler is the concrete OperatorHandler a generated window
// pipeline retrieves by static index and casts to.
type WindowHandler interface {
	OperatorHandler
	GetTypedWindowState() WindowState
}

// JoinHandler is the concrete OperatorHandler a generated join pipeline
// retrieves by static index and casts to.
type JoinHandler interface {
	OperatorHandler
	GetLeftJoinState() JoinState
	GetRightJoinState() JoinState
}
