package runtime

import (
	"context"
	"fmt"

	"github.com/cuemby/nebula/pkg/neserr"
)

// Sink receives buffers a pipeline has finished producing. A generated
// pipeline's output sink is either another pipeline running in-process
// (InProcessSink) or a cross-node network sink.
type Sink interface {
	Consume(buf *TupleBuffer, wc *WorkerContext) error
}

// InProcessSink hands a buffer directly to a downstream pipeline's
// execute function, skipping the network entirely.
type InProcessSink struct {
	Downstream func(in *TupleBuffer, ctx *PipelineExecutionContext, wc *WorkerContext) error
	Context    *PipelineExecutionContext
}

// Consume runs the downstream pipeline stage inline.
func (s *InProcessSink) Consume(buf *TupleBuffer, wc *WorkerContext) error {
	return s.Downstream(buf, s.Context, wc)
}

// WorkerContext is the thread-local handle a generated pipeline stage
// executes under: its worker id and a reference to the buffer pool it
// allocates from.
type WorkerContext struct {
	WorkerID uint64
	Pool     *BufferPool
}

// NewWorkerContext builds a worker context bound to pool.
func NewWorkerContext(workerID uint64, pool *BufferPool) *WorkerContext {
	return &WorkerContext{WorkerID: workerID, Pool: pool}
}

// PipelineExecutionContext is the per-pipeline handle generated execute
// functions receive: it allocates and emits output buffers and resolves
// operator handlers by their static index.
type PipelineExecutionContext struct {
	PipelineID uint64
	handlers   []OperatorHandler
	sink       Sink
	pool       *BufferPool
}

// NewPipelineExecutionContext builds an execution context for a
// generated pipeline with its ordered operator handlers, output sink,
// and the buffer pool it allocates output buffers from.
func NewPipelineExecutionContext(pipelineID uint64, handlers []OperatorHandler, sink Sink, pool *BufferPool) *PipelineExecutionContext {
	return &PipelineExecutionContext{PipelineID: pipelineID, handlers: handlers, sink: sink, pool: pool}
}

// AllocateTupleBuffer checks out a fresh output buffer from the context's
// pool, blocking until one is free.
func (c *PipelineExecutionContext) AllocateTupleBuffer(ctx context.Context) (*TupleBuffer, error) {
	return c.pool.GetBlocking(ctx)
}

// EmitBuffer hands a produced buffer off to the pipeline's sink.
func (c *PipelineExecutionContext) EmitBuffer(buf *TupleBuffer, wc *WorkerContext) error {
	if c.sink == nil {
		return fmt.Errorf("runtime: pipeline %d has no sink configured: %w", c.PipelineID, neserr.ErrRuntimeStageFailure)
	}
	return c.sink.Consume(buf, wc)
}

// GetOperatorHandler returns the handler registered at index. Generated
// code casts the result to the concrete handler type (WindowHandler,
// JoinHandler) it statically expects at that index.
func (c *PipelineExecutionContext) GetOperatorHandler(index int) (OperatorHandler, error) {
	if index < 0 || index >= len(c.handlers) {
		return nil, fmt.Errorf("runtime: pipeline %d has no handler at index %d: %w", c.PipelineID, index, neserr.ErrRuntimeStageFailure)
	}
	return c.handlers[index], nil
}

// StartHandlers starts every registered handler against stateManager.
func (c *PipelineExecutionContext) StartHandlers(stateManager StateManager) error {
	for i, h := range c.handlers {
		if err := h.Start(stateManager, c.PipelineID); err != nil {
			return fmt.Errorf("runtime: pipeline %d handler %d start: %w", c.PipelineID, i, err)
		}
	}
	return nil
}

// StopHandlers stops every registered handler, collecting (not
// short-circuiting on) the first error so every handler gets a chance to
// flush.
func (c *PipelineExecutionContext) StopHandlers() error {
	var first error
	for i, h := range c.handlers {
		if err := h.Stop(); err != nil && first == nil {
			first = fmt.Errorf("runtime: pipeline %d handler %d stop: %w", c.PipelineID, i, err)
		}
	}
	return first
}

// TriggerHandlers fires every registered handler's on-time trigger
// policy, collecting (not short-circuiting on) the first error so a
// stuck handler never starves the rest of the pipeline's triggers.
func (c *PipelineExecutionContext) TriggerHandlers() error {
	var first error
	for i, h := range c.handlers {
		if err := h.Trigger(); err != nil && first == nil {
			first = fmt.Errorf("runtime: pipeline %d handler %d trigger: %w", c.PipelineID, i, err)
		}
	}
	return first
}
