package deploy

import (
	"fmt"

	"github.com/cuemby/nebula/pkg/codegen"
	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/cuemby/nebula/pkg/schema"
)

// segment is one maximal run of generatable operators translated into a
// single codegen.Pipeline: a simple path within the sub-plan's operator
// graph, bounded by a source/sink/network boundary or by a join/union
// merge point. A sub-plan with a join or two-source union splits into
// multiple segments joined by in-process sinks; anything that fans out
// to more than one downstream operator is outside what this translator
// can linearize.
type segment struct {
	startID    operator.ID
	arity      codegen.Arity
	pipeline   *codegen.Pipeline
	downstream operator.ID // 0 if this segment has no in-sub-plan continuation
	joinOpID   operator.ID // non-zero if this segment ends on a join step

	// entryBoundary is the structural operator (source/network-source/a
	// union's convergence point) this segment's chain descended from, or
	// nil if the segment starts on a non-structural leaf. exitBoundary is
	// the structural operator the chain stopped at (sink/network-sink/
	// another union), or nil if it ran off the sub-plan with nothing
	// present downstream. Worker reads these to wire network transport
	// around a segment's input/output.
	entryBoundary *operator.Operator
	exitBoundary  *operator.Operator

	// handlers holds one runtime.OperatorHandler per HandlerIndex this
	// segment's pipeline references, in index order.
	handlers []runtime.OperatorHandler
}

// segmentBuilder walks a sub-plan's operator graph from its input
// boundary (Leaves()) downstream, splitting it into segments at
// source/sink/network/union boundaries and at join merge points.
type segmentBuilder struct {
	sp           *execplan.SubPlan
	segments     map[operator.ID]*segment
	joinHandlers map[operator.ID]*runtime.DefaultJoinHandler
}

func newSegmentBuilder(sp *execplan.SubPlan) *segmentBuilder {
	return &segmentBuilder{
		sp:           sp,
		segments:     make(map[operator.ID]*segment),
		joinHandlers: make(map[operator.ID]*runtime.DefaultJoinHandler),
	}
}

func isStructural(k operator.Kind) bool {
	return k == operator.KindSource || k == operator.KindSink || k.IsNetwork() || k == operator.KindUnion
}

// presentParents returns op's parents that are part of this sub-plan.
func (b *segmentBuilder) presentParents(op *operator.Operator) []operator.ID {
	var out []operator.ID
	for _, id := range op.Parents {
		if b.sp.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// firstGeneratable descends through leading structural operators (a
// source, or a union's convergence point) until it finds the operator a
// segment should actually start translating from. A structural operator
// must have exactly one present parent to descend through; anything else
// is either a terminal boundary (0 parents) or unsupported fan-out (>1).
func (b *segmentBuilder) firstGeneratable(id operator.ID) (operator.ID, error) {
	op, ok := b.sp.Operators[id]
	if !ok {
		return 0, fmt.Errorf("deploy: operator %d: %w", id, neserr.ErrUnknownOperator)
	}
	if !isStructural(op.Kind) {
		return id, nil
	}
	parents := b.presentParents(op)
	switch len(parents) {
	case 0:
		return 0, nil // dead-end boundary with nothing downstream in this sub-plan
	case 1:
		return b.firstGeneratable(parents[0])
	default:
		return 0, fmt.Errorf("deploy: operator %d has %d downstream branches: %w", id, len(parents), neserr.ErrUnsupportedSubPlanShape)
	}
}

// BuildAll walks every input-boundary leaf of the sub-plan, producing the
// full segment set reachable from them.
func (b *segmentBuilder) BuildAll() error {
	for _, leaf := range b.sp.Leaves() {
		startID, err := b.firstGeneratable(leaf.ID)
		if err != nil {
			return err
		}
		if startID == 0 {
			continue
		}
		var entryBoundary *operator.Operator
		if isStructural(leaf.Kind) {
			entryBoundary = leaf
		}
		if _, err := b.buildFrom(startID, codegen.Unary, entryBoundary); err != nil {
			return err
		}
	}
	return nil
}

// buildFrom builds (or returns the already-built) segment starting at
// startID with the given arity, walking downstream until it hits a
// boundary, a join, or a fan-out. entryBoundary is the structural
// operator startID's chain descended from, if any.
func (b *segmentBuilder) buildFrom(startID operator.ID, arity codegen.Arity, entryBoundary *operator.Operator) (*segment, error) {
	if seg, ok := b.segments[startID]; ok {
		return seg, nil
	}

	first, ok := b.sp.Operators[startID]
	if !ok {
		return nil, fmt.Errorf("deploy: operator %d: %w", startID, neserr.ErrUnknownOperator)
	}

	seg := &segment{startID: startID, arity: arity, entryBoundary: entryBoundary}
	inputSchema := first.InputSchema
	if arity == codegen.BinaryLeft {
		inputSchema = first.LeftInputSchema
	} else if arity == codegen.BinaryRight {
		inputSchema = first.RightInputSchema
	}
	pipeline := codegen.NewPipeline(uint64(startID), fmt.Sprintf("segment-%d", startID), inputSchema, schema.Schema{})
	pipeline.Arity = arity
	seg.pipeline = pipeline
	b.segments[startID] = seg // register before recursing so cycles through a shared downstream dedup correctly

	handlerIdx := 0
	cur := first
	for {
		if cur.Kind == operator.KindJoin {
			gen := b.translateJoin(cur, handlerIdx)
			handlerIdx++
			seg.handlers = append(seg.handlers, b.joinHandlers[cur.ID])
			pipeline.AddOperator(gen)
			pipeline.OutputSchema = cur.OutputSchema
			seg.joinOpID = cur.ID

			parents := b.presentParents(cur)
			if len(parents) > 1 {
				return nil, fmt.Errorf("deploy: join %d has %d downstream branches: %w", cur.ID, len(parents), neserr.ErrUnsupportedSubPlanShape)
			}
			if len(parents) == 1 {
				joinNext := b.sp.Operators[parents[0]]
				if isStructural(joinNext.Kind) {
					seg.exitBoundary = joinNext
				}
				downstreamStart, err := b.firstGeneratable(parents[0])
				if err != nil {
					return nil, err
				}
				if downstreamStart != 0 {
					if _, err := b.buildFrom(downstreamStart, codegen.Unary, seg.exitBoundary); err != nil {
						return nil, err
					}
					seg.downstream = downstreamStart
				}
			}
			return seg, nil
		}

		if gen, ok := translateOperator(cur); ok {
			if gen.Kind == codegen.OpWindow {
				gen.HandlerIndex = handlerIdx
				handlerIdx++
				seg.handlers = append(seg.handlers, runtime.NewDefaultWindowHandler(cur.Window))
			}
			pipeline.AddOperator(gen)
		}
		pipeline.OutputSchema = cur.OutputSchema

		parents := b.presentParents(cur)
		switch len(parents) {
		case 0:
			return seg, nil
		case 1:
		default:
			return nil, fmt.Errorf("deploy: operator %d has %d downstream branches: %w", cur.ID, len(parents), neserr.ErrUnsupportedSubPlanShape)
		}

		next := b.sp.Operators[parents[0]]
		if isStructural(next.Kind) {
			seg.exitBoundary = next
			downstreamStart, err := b.firstGeneratable(next.ID)
			if err != nil {
				return nil, err
			}
			if downstreamStart != 0 {
				if _, err := b.buildFrom(downstreamStart, codegen.Unary, next); err != nil {
					return nil, err
				}
				seg.downstream = downstreamStart
			}
			return seg, nil
		}
		cur = next
	}
}

// translateJoin builds the OpJoin generatable step for cur, sharing one
// DefaultJoinHandler between the left and right segments that feed it
// (the handler is created once per join operator id in b.joinHandlers,
// and buildFrom appends that same instance to each side's handlers).
func (b *segmentBuilder) translateJoin(cur *operator.Operator, handlerIdx int) codegen.GeneratableOperator {
	if _, ok := b.joinHandlers[cur.ID]; !ok {
		b.joinHandlers[cur.ID] = runtime.NewDefaultJoinHandler()
	}
	return codegen.GeneratableOperator{
		Kind:         codegen.OpJoin,
		HandlerIndex: handlerIdx,
		Join:         cur.Join,
	}
}

// translateOperator maps an operator to its generatable step. Structural
// and join operators never reach here (callers special-case them);
// Projection narrows the schema without needing a runtime step (EncodeRows
// only ever writes the output schema's own fields); Rename is a same-value
// copy expressed as a map step.
func translateOperator(op *operator.Operator) (codegen.GeneratableOperator, bool) {
	switch op.Kind {
	case operator.KindSelection:
		return codegen.GeneratableOperator{Kind: codegen.OpFilter, HandlerIndex: -1, Predicate: op.Predicate}, true
	case operator.KindMap:
		return codegen.GeneratableOperator{Kind: codegen.OpMap, HandlerIndex: -1, Expression: op.Expression, OutputField: outputFieldOf(op)}, true
	case operator.KindRename:
		return codegen.GeneratableOperator{Kind: codegen.OpMap, HandlerIndex: -1, Expression: renameSourceField(op), OutputField: op.RenameTo}, true
	case operator.KindWatermarkAssigner:
		return codegen.GeneratableOperator{Kind: codegen.OpWatermark, HandlerIndex: -1, Watermark: op.Watermark}, true
	case operator.KindWindow:
		return codegen.GeneratableOperator{Kind: codegen.OpWindow, HandlerIndex: 0, Window: op.Window}, true
	case operator.KindProjection, operator.KindLimit, operator.KindInferModel:
		return codegen.GeneratableOperator{}, false
	default:
		return codegen.GeneratableOperator{}, false
	}
}

// outputFieldOf picks the field a KindMap operator's expression result is
// written to: the first field present in OutputSchema but absent from
// InputSchema; if there is none (an in-place update of an existing
// field), the last field of OutputSchema; the expression text itself
// only when OutputSchema has no fields at all.
func outputFieldOf(op *operator.Operator) string {
	for _, f := range op.OutputSchema.Fields {
		if !op.InputSchema.Has(f.Name) {
			return f.Name
		}
	}
	if len(op.OutputSchema.Fields) > 0 {
		return op.OutputSchema.Fields[len(op.OutputSchema.Fields)-1].Name
	}
	return op.Expression
}

// renameSourceField picks the input field being renamed: the sole field
// present in InputSchema but absent from OutputSchema.
func renameSourceField(op *operator.Operator) string {
	for _, f := range op.InputSchema.Fields {
		if !op.OutputSchema.Has(f.Name) {
			return f.Name
		}
	}
	return op.RenameTo
}
