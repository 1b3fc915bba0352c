package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	startErr   error
	stopErr    error
	triggerErr error
	started    bool
	stopped    bool
	triggered  bool
}

func (f *fakeHandler) Start(stateManager StateManager, pipelineID uint64) error {
	f.started = true
	return f.startErr
}
func (f *fakeHandler) Stop() error {
	f.stopped = true
	return f.stopErr
}
func (f *fakeHandler) Trigger() error {
	f.triggered = true
	return f.triggerErr
}

type fakeStateManager struct{}

func (fakeStateManager) Load(pipelineID uint64, key string) ([]byte, bool) { return nil, false }
func (fakeStateManager) Store(pipelineID uint64, key string, value []byte) {}

type recordingSink struct {
	consumed []*TupleBuffer
	err      error
}

func (s *recordingSink) Consume(buf *TupleBuffer, wc *WorkerContext) error {
	s.consumed = append(s.consumed, buf)
	return s.err
}

func TestPipelineExecutionContext_AllocateAndEmit(t *testing.T) {
	pool := NewBufferPool(1, 16)
	sink := &recordingSink{}
	execCtx := NewPipelineExecutionContext(1, nil, sink, pool)

	buf, err := execCtx.AllocateTupleBuffer(context.Background())
	require.NoError(t, err)

	wc := NewWorkerContext(0, pool)
	require.NoError(t, execCtx.EmitBuffer(buf, wc))
	assert.Len(t, sink.consumed, 1)
	assert.Same(t, buf, sink.consumed[0])
}

func TestPipelineExecutionContext_EmitBufferNoSink(t *testing.T) {
	pool := NewBufferPool(1, 16)
	execCtx := NewPipelineExecutionContext(1, nil, nil, pool)
	buf, err := execCtx.AllocateTupleBuffer(context.Background())
	require.NoError(t, err)

	err = execCtx.EmitBuffer(buf, NewWorkerContext(0, pool))
	assert.Error(t, err)
}

func TestPipelineExecutionContext_GetOperatorHandler(t *testing.T) {
	h0 := &fakeHandler{}
	h1 := &fakeHandler{}
	execCtx := NewPipelineExecutionContext(1, []OperatorHandler{h0, h1}, nil, nil)

	got, err := execCtx.GetOperatorHandler(1)
	require.NoError(t, err)
	assert.Same(t, h1, got)

	_, err = execCtx.GetOperatorHandler(5)
	assert.Error(t, err)
	_, err = execCtx.GetOperatorHandler(-1)
	assert.Error(t, err)
}

func TestPipelineExecutionContext_StartStopHandlers(t *testing.T) {
	h0 := &fakeHandler{}
	h1 := &fakeHandler{}
	execCtx := NewPipelineExecutionContext(1, []OperatorHandler{h0, h1}, nil, nil)

	require.NoError(t, execCtx.StartHandlers(fakeStateManager{}))
	assert.True(t, h0.started)
	assert.True(t, h1.started)

	require.NoError(t, execCtx.StopHandlers())
	assert.True(t, h0.stopped)
	assert.True(t, h1.stopped)
}

func TestPipelineExecutionContext_StopHandlersCollectsFirstError(t *testing.T) {
	boom := errors.New("boom")
	h0 := &fakeHandler{stopErr: boom}
	h1 := &fakeHandler{}
	execCtx := NewPipelineExecutionContext(1, []OperatorHandler{h0, h1}, nil, nil)

	err := execCtx.StopHandlers()
	require.Error(t, err)
	assert.True(t, h1.stopped, "later handlers still get a chance to stop")
}

func TestPipelineExecutionContext_TriggerHandlersCollectsFirstError(t *testing.T) {
	boom := errors.New("boom")
	h0 := &fakeHandler{triggerErr: boom}
	h1 := &fakeHandler{}
	execCtx := NewPipelineExecutionContext(1, []OperatorHandler{h0, h1}, nil, nil)

	err := execCtx.TriggerHandlers()
	require.Error(t, err)
	assert.True(t, h0.triggered)
	assert.True(t, h1.triggered, "later handlers still get a chance to trigger")
}

func TestInProcessSink_Consume(t *testing.T) {
	var gotBuf *TupleBuffer
	downstreamCtx := NewPipelineExecutionContext(2, nil, nil, nil)
	sink := &InProcessSink{
		Context: downstreamCtx,
		Downstream: func(in *TupleBuffer, ctx *PipelineExecutionContext, wc *WorkerContext) error {
			gotBuf = in
			assert.Same(t, downstreamCtx, ctx)
			return nil
		},
	}

	buf := NewTupleBuffer(nil, 0)
	require.NoError(t, sink.Consume(buf, nil))
	assert.Same(t, buf, gotBuf)
}
