// Package codegen translates a DAG fragment of generatable operators into
// an executable pipeline artifact: scan the input buffer, run filter/map/
// watermark/window/join/CEP-iteration steps, emit to the pipeline's sink.
package codegen

import (
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/schema"
)

// Arity is the shape of a pipeline's input side.
type Arity int

const (
	// Unary pipelines read from a single input schema.
	Unary Arity = iota
	// BinaryLeft pipelines are the left-input half of a binary operator
	// (join, union) fused into this pipeline.
	BinaryLeft
	// BinaryRight pipelines are the right-input half.
	BinaryRight
)

func (a Arity) String() string {
	switch a {
	case Unary:
		return "unary"
	case BinaryLeft:
		return "binary_left"
	case BinaryRight:
		return "binary_right"
	default:
		return "unknown"
	}
}

// OpKind tags a single generatable step inside a pipeline.
type OpKind string

const (
	OpFilter     OpKind = "filter"
	OpMap        OpKind = "map"
	OpWatermark  OpKind = "watermark"
	OpWindow     OpKind = "window"
	OpJoin       OpKind = "join"
	OpCEPIterate OpKind = "cep_iterate"
)

// GeneratableOperator is one step of a pipeline's operator chain, carrying
// only the parameters the emitter needs to produce its code (or, for the
// interpreted backend, to execute the step directly).
type GeneratableOperator struct {
	Kind OpKind

	// HandlerIndex is the static index this step's OperatorHandler is
	// registered at on the PipelineExecutionContext; -1 if the step has
	// no handler (Filter, Map).
	HandlerIndex int

	Predicate   string // OpFilter: expression text, true keeps the tuple
	Expression  string // OpMap: expression text producing OutputField's value
	OutputField string // OpMap: field written with Expression's result

	Watermark operator.WatermarkStrategy // OpWatermark
	Window    operator.WindowDescriptor  // OpWindow

	Join operator.JoinDescriptor // OpJoin

	// RepeatCount bounds an OpCEPIterate step's inner-pipeline repeat;
	// Inner is the sub-pipeline run up to RepeatCount times per tuple.
	RepeatCount int
	Inner       []GeneratableOperator
}

// Pipeline is a DAG fragment translated into generatable operators: one
// scan of the input schema(s), a chain of operator steps, one emit.
type Pipeline struct {
	ID   uint64
	Name string

	Arity            Arity
	InputSchema      schema.Schema // valid iff Arity == Unary
	LeftInputSchema  schema.Schema // valid iff Arity == BinaryLeft
	RightInputSchema schema.Schema // valid iff Arity == BinaryRight
	OutputSchema     schema.Schema

	Operators []GeneratableOperator
}

// NewPipeline builds an empty unary pipeline; callers append operators and
// override Arity/left-right schemas for binary pipelines.
func NewPipeline(id uint64, name string, input, output schema.Schema) *Pipeline {
	return &Pipeline{
		ID:          id,
		Name:        name,
		Arity:       Unary,
		InputSchema: input,
		OutputSchema: output,
	}
}

// AddOperator appends a generatable step to the pipeline's chain. Finish
// adding every step before handing the pipeline to a Compiler: Generate
// compiles each step's expression by the operator's address, which is
// only stable once the chain stops growing.
func (p *Pipeline) AddOperator(op GeneratableOperator) {
	p.Operators = append(p.Operators, op)
}

// HandlerCount returns one past the highest HandlerIndex referenced by the
// pipeline's operators (recursing into CEP-iteration inner steps), the
// size the caller must allocate its handler slice to.
func (p *Pipeline) HandlerCount() int {
	highest := -1
	var scan func(ops []GeneratableOperator)
	scan = func(ops []GeneratableOperator) {
		for _, op := range ops {
			if op.HandlerIndex > highest {
				highest = op.HandlerIndex
			}
			if op.Kind == OpCEPIterate {
				scan(op.Inner)
			}
		}
	}
	scan(p.Operators)
	return highest + 1
}
