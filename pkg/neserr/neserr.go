// Package neserr defines the sentinel errors shared across the engine's
// core packages. Callers wrap these with context via fmt.Errorf("...: %w",
// neserr.ErrX) and test for them with errors.Is.
package neserr

import "errors"

var (
	// ErrPathUnavailable is returned when no topology path connects the
	// requested upstream and downstream node sets, or when path-selection
	// retries are exhausted.
	ErrPathUnavailable = errors.New("neserr: no topology path available")

	// ErrResourceExhausted is returned when a topology node cannot satisfy
	// a slot, memory, or network reservation.
	ErrResourceExhausted = errors.New("neserr: resource exhausted")

	// ErrPlacementCorruption is returned when the placement planner
	// observes an invariant violation (duplicate sub-plan ids, missing
	// operators) it cannot recover from.
	ErrPlacementCorruption = errors.New("neserr: placement corruption")

	// ErrUnknownNode is returned when an operation references a topology
	// node id that is not registered.
	ErrUnknownNode = errors.New("neserr: unknown topology node")

	// ErrUnknownOperator is returned when an operation references an
	// operator id that is not present in its plan.
	ErrUnknownOperator = errors.New("neserr: unknown operator")

	// ErrCodeGenerationFailure is returned when the code generator cannot
	// emit source text for a pipeline.
	ErrCodeGenerationFailure = errors.New("neserr: code generation failure")

	// ErrCompilationFailure is returned when a compiler backend cannot
	// turn generated source into an executable artifact.
	ErrCompilationFailure = errors.New("neserr: compilation failure")

	// ErrRuntimeStageFailure is returned by a pipeline stage at runtime;
	// it is returned to the caller and never retried internally.
	ErrRuntimeStageFailure = errors.New("neserr: runtime stage failure")

	// ErrDuplicateNode is returned when registering a topology node id
	// that already exists.
	ErrDuplicateNode = errors.New("neserr: duplicate topology node")

	// ErrUnsupportedSubPlanShape is returned when a deployed sub-plan's
	// operator graph branches in a way the in-process pipeline wiring
	// cannot translate (operator fan-out beyond a single join/union
	// merge).
	ErrUnsupportedSubPlanShape = errors.New("neserr: unsupported sub-plan shape")
)
