package codegen

import (
	"context"
	"testing"

	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/cuemby/nebula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func speedSchema() schema.Schema {
	return schema.New(schema.LayoutRowOriented,
		schema.Field{Name: "speed", Type: schema.TypeFloat64},
	)
}

func doubledSchema() schema.Schema {
	return schema.New(schema.LayoutRowOriented,
		schema.Field{Name: "speed", Type: schema.TypeFloat64},
		schema.Field{Name: "doubled", Type: schema.TypeFloat64},
	)
}

func newExecCtx(sink runtime.Sink) (*runtime.PipelineExecutionContext, *runtime.BufferPool) {
	pool := runtime.NewBufferPool(4, 4096)
	return runtime.NewPipelineExecutionContext(1, nil, sink, pool), pool
}

func TestBackendSource_FilterMapPipeline(t *testing.T) {
	in := speedSchema()
	out := doubledSchema()

	p := NewPipeline(1, "fast-cars", in, out)
	p.AddOperator(GeneratableOperator{Kind: OpFilter, HandlerIndex: -1, Predicate: "speed > 50"})
	p.AddOperator(GeneratableOperator{Kind: OpMap, HandlerIndex: -1, Expression: "speed * 2", OutputField: "doubled"})

	backend := BackendSource{}
	artifact, err := backend.Generate(p)
	require.NoError(t, err)
	require.NoError(t, artifact.Setup())
	require.NoError(t, artifact.Start(fakeStateManager{}))
	assert.NotEmpty(t, artifact.Source())

	sink := &fakeSink{}
	execCtx, pool := newExecCtx(sink)
	wc := runtime.NewWorkerContext(0, pool)

	raw, err := EncodeRows(in, []Record{{"speed": 60.0}, {"speed": 10.0}})
	require.NoError(t, err)
	inBuf := runtime.NewTupleBuffer(raw, 2)

	status, err := artifact.Execute(context.Background(), inBuf, execCtx, wc)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	require.Len(t, sink.consumed, 1)

	decoded, err := DecodeRows(out, sink.consumed[0].Buffer(), sink.consumed[0].NumberOfTuples())
	require.NoError(t, err)
	require.Len(t, decoded, 1, "only the 60.0 record passes the filter")
	assert.Equal(t, 60.0, decoded[0]["speed"])
	assert.Equal(t, 120.0, decoded[0]["doubled"])

	require.NoError(t, artifact.Stop())
}

func TestBackendSource_AllTuplesFilteredYieldsNoOutput(t *testing.T) {
	in := speedSchema()
	p := NewPipeline(1, "none-fast", in, in)
	p.AddOperator(GeneratableOperator{Kind: OpFilter, HandlerIndex: -1, Predicate: "speed > 1000"})

	artifact, err := BackendSource{}.Generate(p)
	require.NoError(t, err)

	sink := &fakeSink{}
	execCtx, pool := newExecCtx(sink)
	wc := runtime.NewWorkerContext(0, pool)

	raw, err := EncodeRows(in, []Record{{"speed": 60.0}})
	require.NoError(t, err)
	inBuf := runtime.NewTupleBuffer(raw, 1)

	status, err := artifact.Execute(context.Background(), inBuf, execCtx, wc)
	require.NoError(t, err)
	assert.Equal(t, StatusNoOutput, status)
	assert.Empty(t, sink.consumed)
}

func TestBackendSource_WindowPipeline(t *testing.T) {
	in := speedSchema()

	p := NewPipeline(1, "windowed", in, in)
	p.AddOperator(GeneratableOperator{
		Kind:    OpWatermark,
		HandlerIndex: -1,
		Watermark: operator.WatermarkStrategy{TimestampField: "speed", TimeChar: operator.TimeEventTime},
	})
	p.AddOperator(GeneratableOperator{
		Kind:         OpWindow,
		HandlerIndex: 0,
		Window:       operator.WindowDescriptor{Kind: operator.WindowTumbling, Size: 100},
	})

	handler := newFakeWindowHandler()
	artifact, err := BackendSource{}.Generate(p)
	require.NoError(t, err)

	sink := &fakeSink{}
	pool := runtime.NewBufferPool(4, 4096)
	execCtx := runtime.NewPipelineExecutionContext(1, []runtime.OperatorHandler{handler}, sink, pool)
	wc := runtime.NewWorkerContext(0, pool)

	raw, err := EncodeRows(in, []Record{{"speed": 5.0}})
	require.NoError(t, err)
	inBuf := runtime.NewTupleBuffer(raw, 1)

	status, err := artifact.Execute(context.Background(), inBuf, execCtx, wc)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	require.Len(t, sink.consumed, 1)

	decoded, err := DecodeRows(in, sink.consumed[0].Buffer(), sink.consumed[0].NumberOfTuples())
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, 5.0, decoded[0]["speed"])
}

func TestBackendSource_JoinPipeline(t *testing.T) {
	idSchema := schema.New(schema.LayoutRowOriented, schema.Field{Name: "id", Type: schema.TypeInt64})

	p := NewPipeline(1, "car-join", schema.Schema{}, idSchema)
	p.Arity = BinaryLeft
	p.LeftInputSchema = idSchema
	p.AddOperator(GeneratableOperator{
		Kind:         OpJoin,
		HandlerIndex: 0,
		Join:         operator.JoinDescriptor{Kind: operator.JoinInner, LeftField: "id", RightField: "id"},
	})

	joinHandler := newFakeJoinHandler()
	// pre-seed the right side so the left append below produces a match
	require.NoError(t, joinHandler.state.AppendRight("1", 0, 0, mustMarshal(t, Record{"id": int64(1)})))

	artifact, err := BackendSource{}.Generate(p)
	require.NoError(t, err)

	sink := &fakeSink{}
	pool := runtime.NewBufferPool(4, 4096)
	execCtx := runtime.NewPipelineExecutionContext(1, []runtime.OperatorHandler{joinHandler}, sink, pool)
	wc := runtime.NewWorkerContext(0, pool)

	raw, err := EncodeRows(idSchema, []Record{{"id": int64(1)}})
	require.NoError(t, err)
	inBuf := runtime.NewTupleBuffer(raw, 1)

	status, err := artifact.Execute(context.Background(), inBuf, execCtx, wc)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	require.Len(t, sink.consumed, 1)
}

func mustMarshal(t *testing.T, rec Record) []byte {
	t.Helper()
	b, err := marshalRecord(rec)
	require.NoError(t, err)
	return b
}

func TestBackendSource_WrongHandlerTypeErrors(t *testing.T) {
	in := speedSchema()
	p := NewPipeline(1, "bad-handler", in, in)
	p.AddOperator(GeneratableOperator{Kind: OpWindow, HandlerIndex: 0, Window: operator.WindowDescriptor{Kind: operator.WindowTumbling, Size: 10}})

	artifact, err := BackendSource{}.Generate(p)
	require.NoError(t, err)

	sink := &fakeSink{}
	pool := runtime.NewBufferPool(4, 4096)
	execCtx := runtime.NewPipelineExecutionContext(1, []runtime.OperatorHandler{newFakeJoinHandler()}, sink, pool)
	wc := runtime.NewWorkerContext(0, pool)

	raw, _ := EncodeRows(in, []Record{{"speed": 1.0}})
	inBuf := runtime.NewTupleBuffer(raw, 1)

	_, err = artifact.Execute(context.Background(), inBuf, execCtx, wc)
	assert.Error(t, err)
}
