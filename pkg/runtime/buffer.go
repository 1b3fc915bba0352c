// Package runtime implements the minimal runtime contract that generated
// pipeline code calls into: tuple buffer access, buffer allocation and
// emission, operator handler lookup, and the worker context a pipeline
// stage executes under.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/nebula/pkg/metrics"
)

// TupleBuffer is a fixed-capacity slab of raw tuple bytes plus the
// bookkeeping generated code reads at the top of an execute call.
type TupleBuffer struct {
	OriginID       uint64
	SequenceNumber uint64
	WatermarkTime  time.Time

	numTuples uint64
	data      []byte
}

// NewTupleBuffer wraps data as a tuple buffer carrying numTuples records.
func NewTupleBuffer(data []byte, numTuples uint64) *TupleBuffer {
	return &TupleBuffer{data: data, numTuples: numTuples}
}

// NumberOfTuples returns how many tuples are packed into the buffer.
func (b *TupleBuffer) NumberOfTuples() uint64 { return b.numTuples }

// SetNumberOfTuples updates the tuple count, called by generated code as
// it fills an allocated output buffer.
func (b *TupleBuffer) SetNumberOfTuples(n uint64) { b.numTuples = n }

// Buffer returns the raw memory generated code scans or writes into.
func (b *TupleBuffer) Buffer() []byte { return b.data }

// Reset clears a buffer for reuse by the pool it was checked out from.
func (b *TupleBuffer) Reset() {
	b.numTuples = 0
	b.OriginID = 0
	b.SequenceNumber = 0
	b.WatermarkTime = time.Time{}
}

// BufferPool is a fixed-size pool of reusable tuple buffers, the one
// blocking resource in the generated code's hot path.
type BufferPool struct {
	bufferSize int
	sem        chan *TupleBuffer
}

// NewBufferPool preallocates n buffers of bufferSize bytes each.
func NewBufferPool(n, bufferSize int) *BufferPool {
	p := &BufferPool{
		bufferSize: bufferSize,
		sem:        make(chan *TupleBuffer, n),
	}
	for i := 0; i < n; i++ {
		p.sem <- NewTupleBuffer(make([]byte, bufferSize), 0)
	}
	return p
}

// GetBlocking checks out a buffer, blocking until one is free or ctx is
// done. This is the only blocking call the generated execute path makes.
func (p *BufferPool) GetBlocking(ctx context.Context) (*TupleBuffer, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BufferPoolWaitDuration)

	select {
	case buf := <-p.sem:
		return buf, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("runtime: buffer pool wait: %w", ctx.Err())
	}
}

// TryGet checks out a buffer without blocking, returning ok=false if the
// pool is currently exhausted.
func (p *BufferPool) TryGet() (buf *TupleBuffer, ok bool) {
	select {
	case buf := <-p.sem:
		return buf, true
	default:
		return nil, false
	}
}

// Release returns buf to the pool after its consumer is done with it.
func (p *BufferPool) Release(buf *TupleBuffer) {
	buf.Reset()
	select {
	case p.sem <- buf:
	default:
		// Pool was over-subscribed (buf didn't originate here); drop it.
	}
}
