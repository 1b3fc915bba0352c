package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_SubmitExecutesStage(t *testing.T) {
	pool := NewBufferPool(4, 16)
	wp := NewWorkerPool(2, pool)
	defer wp.Stop()

	var mu sync.Mutex
	var seen []uint64

	execCtx := NewPipelineExecutionContext(1, nil, &recordingSink{}, pool)
	stage := func(ctx context.Context, in *TupleBuffer, ec *PipelineExecutionContext, wc *WorkerContext) error {
		mu.Lock()
		seen = append(seen, in.SequenceNumber)
		mu.Unlock()
		return nil
	}

	const n = 10
	for i := 0; i < n; i++ {
		buf := NewTupleBuffer(nil, 1)
		buf.SequenceNumber = uint64(i)
		ok := wp.Submit(context.Background(), buf, stage, execCtx, nil)
		require.True(t, ok)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_StopDrainsInFlightThenStopsAcceptingNewWork(t *testing.T) {
	pool := NewBufferPool(2, 16)
	wp := NewWorkerPool(1, pool)

	execCtx := NewPipelineExecutionContext(1, nil, nil, pool)
	stage := func(ctx context.Context, in *TupleBuffer, ec *PipelineExecutionContext, wc *WorkerContext) error {
		return nil
	}

	ok := wp.Submit(context.Background(), NewTupleBuffer(nil, 1), stage, execCtx, nil)
	require.True(t, ok)

	wp.Stop()

	ok = wp.Submit(context.Background(), NewTupleBuffer(nil, 1), stage, execCtx, nil)
	assert.False(t, ok, "pool rejects submissions once stopped")
}

func TestWorkerPool_StageErrorDoesNotCrashPool(t *testing.T) {
	pool := NewBufferPool(2, 16)
	wp := NewWorkerPool(1, pool)
	defer wp.Stop()

	execCtx := NewPipelineExecutionContext(1, nil, nil, pool)

	var calledAfterError bool
	var wg sync.WaitGroup
	wg.Add(2)

	failing := func(ctx context.Context, in *TupleBuffer, ec *PipelineExecutionContext, wc *WorkerContext) error {
		defer wg.Done()
		return errors.New("stage failed")
	}
	succeeding := func(ctx context.Context, in *TupleBuffer, ec *PipelineExecutionContext, wc *WorkerContext) error {
		defer wg.Done()
		calledAfterError = true
		return nil
	}

	require.True(t, wp.Submit(context.Background(), NewTupleBuffer(nil, 1), failing, execCtx, nil))
	require.True(t, wp.Submit(context.Background(), NewTupleBuffer(nil, 1), succeeding, execCtx, nil))

	wg.Wait()
	assert.True(t, calledAfterError, "a failing stage must not take down the worker goroutine")
}
