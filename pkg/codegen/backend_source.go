package codegen

import (
	"context"
	"fmt"

	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/rs/zerolog"
)

// Prometheus label both backends report under.
const (
	backendNameSource = "source"
	backendNameMLIR   = "mlir"
)

// BackendSource is the default compiler backend: it renders Go source
// text for the pipeline (for logging/inspection) and "compiles" it by
// handing the pipeline straight to an in-process interpreter, since
// invoking a real system C/Go compiler per pipeline is out of scope
// here.
type BackendSource struct{}

// Generate renders source text and builds a sourceArtifact wrapping an
// interpreter for pipeline.
func (BackendSource) Generate(pipeline *Pipeline) (Artifact, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CodeGenDuration, backendNameSource)

	logger := log.WithComponent("codegen")
	src, err := renderSource(pipeline)
	if err != nil {
		metrics.CodeGenFailuresTotal.WithLabelValues(backendNameSource).Inc()
		return nil, fmt.Errorf("codegen: rendering source for pipeline %d: %w: %w", pipeline.ID, neserr.ErrCodeGenerationFailure, err)
	}

	compileTimer := metrics.NewTimer()
	it, err := newInterpreter(pipeline)
	compileTimer.ObserveDurationVec(metrics.CompilationDuration, backendNameSource)
	if err != nil {
		metrics.CodeGenFailuresTotal.WithLabelValues(backendNameSource).Inc()
		return nil, fmt.Errorf("codegen: compiling pipeline %d: %w: %w", pipeline.ID, neserr.ErrCompilationFailure, err)
	}

	logger.Debug().Uint64("pipeline_id", pipeline.ID).Str("name", pipeline.Name).Msg("generated pipeline source")
	return &sourceArtifact{pipeline: pipeline, interp: it, source: src, logger: logger}, nil
}

// sourceArtifact is the BackendSource-produced Artifact.
type sourceArtifact struct {
	pipeline *Pipeline
	interp   *interpreter
	source   string
	logger   zerolog.Logger
}

func (a *sourceArtifact) Source() string { return a.source }

// Setup is a no-op: newInterpreter already compiled every expression at
// Generate time.
func (a *sourceArtifact) Setup() error { return nil }

func (a *sourceArtifact) Start(stateManager runtime.StateManager) error { return nil }

func (a *sourceArtifact) Stop() error { return nil }

func (a *sourceArtifact) Execute(ctx context.Context, in *runtime.TupleBuffer, execCtx *runtime.PipelineExecutionContext, wc *runtime.WorkerContext) (Status, error) {
	inputSchema := a.pipeline.InputSchema
	switch a.pipeline.Arity {
	case BinaryLeft:
		inputSchema = a.pipeline.LeftInputSchema
	case BinaryRight:
		inputSchema = a.pipeline.RightInputSchema
	}

	records, err := DecodeRows(inputSchema, in.Buffer(), in.NumberOfTuples())
	if err != nil {
		return StatusNoOutput, fmt.Errorf("codegen: decoding pipeline %d input: %w", a.pipeline.ID, err)
	}

	tuples := make([]tuple, len(records))
	for i, rec := range records {
		tuples[i] = tuple{rec: rec, time: in.WatermarkTime.UnixNano()}
	}

	out, err := a.interp.run(execCtx, tuples)
	if err != nil {
		return StatusNoOutput, fmt.Errorf("codegen: executing pipeline %d: %w: %w", a.pipeline.ID, neserr.ErrRuntimeStageFailure, err)
	}
	if len(out) == 0 {
		return StatusNoOutput, nil
	}

	payload, err := EncodeRows(a.pipeline.OutputSchema, out)
	if err != nil {
		return StatusNoOutput, fmt.Errorf("codegen: encoding pipeline %d output: %w", a.pipeline.ID, err)
	}

	outBuf, err := execCtx.AllocateTupleBuffer(ctx)
	if err != nil {
		return StatusNoOutput, fmt.Errorf("codegen: allocating output buffer: %w", err)
	}
	if len(payload) > len(outBuf.Buffer()) {
		return StatusNoOutput, fmt.Errorf("codegen: pipeline %d output (%d bytes) exceeds buffer pool slot size (%d bytes)", a.pipeline.ID, len(payload), len(outBuf.Buffer()))
	}
	copy(outBuf.Buffer(), payload)
	outBuf.SetNumberOfTuples(uint64(len(out)))

	if err := execCtx.EmitBuffer(outBuf, wc); err != nil {
		return StatusNoOutput, fmt.Errorf("codegen: emitting pipeline %d output: %w", a.pipeline.ID, err)
	}
	return StatusOk, nil
}
