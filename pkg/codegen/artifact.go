package codegen

import (
	"context"

	"github.com/cuemby/nebula/pkg/runtime"
)

// Status is the execute() ABI's return status.
type Status int

const (
	// StatusOk means the pipeline ran to completion and (if anything
	// survived the operator chain) emitted an output buffer.
	StatusOk Status = iota
	// StatusNoOutput means every input tuple was filtered, or a window/
	// join step absorbed the tuples without a slice completing; no
	// output buffer was emitted.
	StatusNoOutput
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusNoOutput:
		return "no_output"
	default:
		return "unknown"
	}
}

// Artifact is a compiled pipeline: the execute() ABI plus its lifecycle
// hooks, as returned by a Compiler backend.
type Artifact interface {
	// Setup performs one-time preparation (schema binding, expression
	// compilation) before Start is called.
	Setup() error
	// Start is the artifact's own start hook, given stateManager. The
	// operator handlers registered on a PipelineExecutionContext are
	// started through that context (StartHandlers), not by Start.
	Start(stateManager runtime.StateManager) error
	// Execute runs the execute(inputBuffer, pipelineExecutionContext,
	// workerContext) ABI call.
	Execute(ctx context.Context, in *runtime.TupleBuffer, execCtx *runtime.PipelineExecutionContext, wc *runtime.WorkerContext) (Status, error)
	// Stop is the artifact's own stop hook. The operator handlers are
	// stopped through the PipelineExecutionContext (StopHandlers), not by
	// Stop. BackendSource's artifact keeps no run state: its Stop returns
	// nil, and Execute calls made after it are not rejected.
	Stop() error
	// Source returns the emitted source text backing this artifact, or
	// the empty string for backends that don't render one.
	Source() string
}

// Compiler turns a Pipeline into an executable Artifact.
type Compiler interface {
	Generate(pipeline *Pipeline) (Artifact, error)
}
