package codegen

import (
	"fmt"

	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/runtime"
)

// interpreter runs a Pipeline's operator chain directly against decoded
// records, playing the role of the "compiled" execute() function for the
// in-process BackendSource artifact.
type interpreter struct {
	pipeline *Pipeline

	// filters/maps are keyed by operator pointer identity rather than
	// slice position, since CEP-iteration nests an independently
	// indexed Inner chain inside an outer one.
	filters map[*GeneratableOperator]*compiledExpr
	maps    map[*GeneratableOperator]*compiledExpr
}

// tuple carries a record through the operator chain plus the most recent
// event time a watermark-assigner step has bound, consumed by downstream
// window/join steps.
type tuple struct {
	rec  Record
	time int64
}

// newInterpreter compiles every Filter/Map expression in the pipeline
// (recursing into CEP-iteration inner chains) up front, so a compilation
// error surfaces from Generate rather than mid-execution.
func newInterpreter(p *Pipeline) (*interpreter, error) {
	it := &interpreter{
		pipeline: p,
		filters:  make(map[*GeneratableOperator]*compiledExpr),
		maps:     make(map[*GeneratableOperator]*compiledExpr),
	}
	if err := it.compileChain(p.Operators); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *interpreter) compileChain(ops []GeneratableOperator) error {
	for i := range ops {
		op := &ops[i]
		switch op.Kind {
		case OpFilter:
			c, err := compileExpr(op.Predicate)
			if err != nil {
				return err
			}
			it.filters[op] = c
		case OpMap:
			c, err := compileExpr(op.Expression)
			if err != nil {
				return err
			}
			it.maps[op] = c
		case OpCEPIterate:
			if err := it.compileChain(op.Inner); err != nil {
				return err
			}
		}
	}
	return nil
}

// run executes the pipeline's operator chain over in, returning the
// surviving tuples' records ready for EncodeRows against the pipeline's
// output schema.
func (it *interpreter) run(execCtx *runtime.PipelineExecutionContext, in []tuple) ([]Record, error) {
	out, err := it.runChain(it.pipeline.Operators, execCtx, in)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(out))
	for i, t := range out {
		records[i] = t.rec
	}
	return records, nil
}

func (it *interpreter) runChain(ops []GeneratableOperator, execCtx *runtime.PipelineExecutionContext, in []tuple) ([]tuple, error) {
	cur := in
	for i := range ops {
		op := &ops[i]
		var err error
		cur, err = it.runStep(op, execCtx, cur)
		if err != nil {
			return nil, err
		}
		if len(cur) == 0 {
			return cur, nil
		}
	}
	return cur, nil
}

func (it *interpreter) runStep(op *GeneratableOperator, execCtx *runtime.PipelineExecutionContext, in []tuple) ([]tuple, error) {
	switch op.Kind {
	case OpFilter:
		return it.runFilter(op, in)
	case OpMap:
		return it.runMap(op, in)
	case OpWatermark:
		return it.runWatermark(op, in)
	case OpWindow:
		return it.runWindow(op, execCtx, in)
	case OpJoin:
		return it.runJoin(op, execCtx, in)
	case OpCEPIterate:
		return it.runCEPIterate(op, execCtx, in)
	default:
		return nil, fmt.Errorf("codegen: unknown operator kind %q: %w", op.Kind, neserr.ErrCodeGenerationFailure)
	}
}

func (it *interpreter) runFilter(op *GeneratableOperator, in []tuple) ([]tuple, error) {
	expr := it.filters[op]
	out := in[:0:0]
	for _, t := range in {
		keep, err := expr.evalBool(t.rec)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, t)
		}
	}
	return out, nil
}

func (it *interpreter) runMap(op *GeneratableOperator, in []tuple) ([]tuple, error) {
	expr := it.maps[op]
	for i := range in {
		v, err := expr.eval(in[i].rec)
		if err != nil {
			return nil, err
		}
		in[i].rec[op.OutputField] = v
	}
	return in, nil
}

func (it *interpreter) runWatermark(op *GeneratableOperator, in []tuple) ([]tuple, error) {
	for i := range in {
		v, ok := in[i].rec[op.Watermark.TimestampField]
		if !ok {
			return nil, fmt.Errorf("codegen: watermark field %q not present in tuple", op.Watermark.TimestampField)
		}
		in[i].time = toInt64(v)
	}
	return in, nil
}

// windowBounds computes the [start, end) bounds of the slice a timestamp
// falls into for the given window shape. Sliding windows use the slice
// whose start is the slide-aligned floor of t; threshold windows have no
// time bounds and are reported as a single all-time slice.
func windowBounds(w operator.WindowDescriptor, t int64) (start, end int64) {
	if w.Size <= 0 {
		// No time-bounded window configured (e.g. a join with no
		// explicit window, or a threshold window): single global bucket.
		return 0, 0
	}
	switch w.Kind {
	case operator.WindowSliding:
		slide := w.Slide
		if slide <= 0 {
			slide = w.Size
		}
		start = (t / slide) * slide
		return start, start + w.Size
	case operator.WindowThreshold:
		return 0, 0
	default: // WindowTumbling
		start = (t / w.Size) * w.Size
		return start, start + w.Size
	}
}

func windowKeyOf(w operator.WindowDescriptor, rec Record) string {
	if !w.Keyed {
		return ""
	}
	return fmt.Sprintf("%v", rec[w.KeyField])
}

func (it *interpreter) runWindow(op *GeneratableOperator, execCtx *runtime.PipelineExecutionContext, in []tuple) ([]tuple, error) {
	handler, err := execCtx.GetOperatorHandler(op.HandlerIndex)
	if err != nil {
		return nil, err
	}
	wh, ok := handler.(runtime.WindowHandler)
	if !ok {
		return nil, fmt.Errorf("codegen: handler at index %d is not a WindowHandler", op.HandlerIndex)
	}
	state := wh.GetTypedWindowState()

	for _, t := range in {
		key := windowKeyOf(op.Window, t.rec)
		payload, err := marshalRecord(t.rec)
		if err != nil {
			return nil, fmt.Errorf("codegen: encoding tuple for window state: %w", err)
		}
		if err := state.Update(key, t.time, payload); err != nil {
			return nil, fmt.Errorf("codegen: window state update: %w", err)
		}
	}
	if err := wh.Trigger(); err != nil {
		return nil, fmt.Errorf("codegen: window trigger: %w", err)
	}

	out := make([]tuple, 0, len(in))
	for _, slice := range state.Slices() {
		rec, err := unmarshalRecord(slice.Data)
		if err != nil {
			return nil, fmt.Errorf("codegen: decoding completed window slice: %w", err)
		}
		out = append(out, tuple{rec: rec, time: slice.StartTime})
	}
	return out, nil
}

func (it *interpreter) runJoin(op *GeneratableOperator, execCtx *runtime.PipelineExecutionContext, in []tuple) ([]tuple, error) {
	handler, err := execCtx.GetOperatorHandler(op.HandlerIndex)
	if err != nil {
		return nil, err
	}
	jh, ok := handler.(runtime.JoinHandler)
	if !ok {
		return nil, fmt.Errorf("codegen: handler at index %d is not a JoinHandler", op.HandlerIndex)
	}

	var side runtime.JoinState
	var keyField string
	switch it.pipeline.Arity {
	case BinaryLeft:
		side = jh.GetLeftJoinState()
		keyField = op.Join.LeftField
	case BinaryRight:
		side = jh.GetRightJoinState()
		keyField = op.Join.RightField
	default:
		return nil, fmt.Errorf("codegen: join step requires a BinaryLeft/BinaryRight pipeline, got %s", it.pipeline.Arity)
	}

	var windowStart, windowEnd int64
	for _, t := range in {
		windowStart, windowEnd = windowBounds(op.Join.Window, t.time)
		key := fmt.Sprintf("%v", t.rec[keyField])
		payload, err := marshalRecord(t.rec)
		if err != nil {
			return nil, fmt.Errorf("codegen: encoding tuple for join state: %w", err)
		}
		var appendErr error
		if it.pipeline.Arity == BinaryLeft {
			appendErr = side.AppendLeft(key, windowStart, windowEnd, payload)
		} else {
			appendErr = side.AppendRight(key, windowStart, windowEnd, payload)
		}
		if appendErr != nil {
			return nil, fmt.Errorf("codegen: join state append: %w", appendErr)
		}
	}
	if len(in) == 0 {
		return nil, nil
	}

	out := make([]tuple, 0)
	for _, match := range side.Matches(windowStart, windowEnd) {
		leftRec, err := unmarshalRecord(match[0])
		if err != nil {
			return nil, fmt.Errorf("codegen: decoding join match left half: %w", err)
		}
		rightRec, err := unmarshalRecord(match[1])
		if err != nil {
			return nil, fmt.Errorf("codegen: decoding join match right half: %w", err)
		}
		merged := make(Record, len(leftRec)+len(rightRec))
		for k, v := range leftRec {
			merged[k] = v
		}
		for k, v := range rightRec {
			merged[k] = v
		}
		out = append(out, tuple{rec: merged, time: windowStart})
	}
	return out, nil
}

func (it *interpreter) runCEPIterate(op *GeneratableOperator, execCtx *runtime.PipelineExecutionContext, in []tuple) ([]tuple, error) {
	cur := in
	for i := 0; i < op.RepeatCount && len(cur) > 0; i++ {
		next, err := it.runChain(op.Inner, execCtx, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
