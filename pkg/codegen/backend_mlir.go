package codegen

import (
	"fmt"

	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/neserr"
)

// BackendMLIR is a stub compiler backend matching the lowering shape of an
// MLIR-to-LLVM pipeline: it exists so Compiler has a second implementation
// of the "MLIR -> LLVM" compilation path, but it is not wired to an actual
// MLIR/LLVM toolchain — invoking a real lowering pipeline is out of scope
// here. Generate always reports a compilation failure.
type BackendMLIR struct{}

// Generate reports that MLIR lowering is unavailable in this build.
func (BackendMLIR) Generate(pipeline *Pipeline) (Artifact, error) {
	metrics.CodeGenFailuresTotal.WithLabelValues(backendNameMLIR).Inc()
	return nil, fmt.Errorf("codegen: MLIR backend has no toolchain wired for pipeline %d: %w", pipeline.ID, neserr.ErrCompilationFailure)
}
