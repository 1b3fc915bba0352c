package runtime

import (
	"context"
	"sync"

	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/rs/zerolog"
)

// Stage is one generated pipeline's execute function: scan the input
// buffer, run the operator chain, emit to the sink.
type Stage func(ctx context.Context, in *TupleBuffer, execCtx *PipelineExecutionContext, wc *WorkerContext) error

// job pairs a stage invocation with the arguments it closes over, queued
// onto a worker goroutine.
type job struct {
	ctx     context.Context
	buffer  *TupleBuffer
	stage   Stage
	execCtx *PipelineExecutionContext
	wc      *WorkerContext
}

// WorkerPool runs pipeline stage executions across a fixed number of
// goroutines, each bound to its own WorkerContext, replacing a
// per-task supervisor loop with a single shared worker-count idiom.
type WorkerPool struct {
	logger zerolog.Logger
	jobs   chan job
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWorkerPool starts n worker goroutines, each dequeuing from a shared
// job channel backed by the given buffer pool.
func NewWorkerPool(n int, pool *BufferPool) *WorkerPool {
	wp := &WorkerPool{
		logger: log.WithComponent("runtime"),
		jobs:   make(chan job, n*2),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		wc := NewWorkerContext(uint64(i), pool)
		wp.wg.Add(1)
		go wp.run(wc)
	}
	return wp
}

func (wp *WorkerPool) run(wc *WorkerContext) {
	defer wp.wg.Done()
	for {
		select {
		case j, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.execute(j, wc)
		case <-wp.stopCh:
			return
		}
	}
}

func (wp *WorkerPool) execute(j job, wc *WorkerContext) {
	timer := metrics.NewTimer()
	status := "success"
	defer func() {
		metrics.PipelinesExecutedTotal.WithLabelValues(status).Inc()
		_ = timer
	}()

	if err := j.stage(j.ctx, j.buffer, j.execCtx, wc); err != nil {
		status = "error"
		wp.logger.Error().
			Err(err).
			Uint64("pipeline_id", j.execCtx.PipelineID).
			Uint64("worker_id", wc.WorkerID).
			Msg("pipeline stage execution failed")
		return
	}
	metrics.TuplesProcessedTotal.Add(float64(j.buffer.NumberOfTuples()))
}

// Submit enqueues a stage execution, blocking only if the job queue is
// full. Returns false if the pool has been stopped.
func (wp *WorkerPool) Submit(ctx context.Context, buf *TupleBuffer, stage Stage, execCtx *PipelineExecutionContext, wc *WorkerContext) bool {
	select {
	case <-wp.stopCh:
		return false
	default:
	}
	select {
	case wp.jobs <- job{ctx: ctx, buffer: buf, stage: stage, execCtx: execCtx, wc: wc}:
		return true
	case <-wp.stopCh:
		return false
	}
}

// Stop is cooperative: it stops dequeuing new jobs and waits for
// in-flight executions to finish before returning.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.stopCh)
	})
	wp.wg.Wait()
}
