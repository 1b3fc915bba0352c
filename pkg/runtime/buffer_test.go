package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTupleBuffer_NumberOfTuples(t *testing.T) {
	buf := NewTupleBuffer(make([]byte, 64), 3)
	assert.Equal(t, uint64(3), buf.NumberOfTuples())
	assert.Len(t, buf.Buffer(), 64)

	buf.SetNumberOfTuples(7)
	assert.Equal(t, uint64(7), buf.NumberOfTuples())
}

func TestTupleBuffer_Reset(t *testing.T) {
	buf := NewTupleBuffer(make([]byte, 8), 5)
	buf.OriginID = 9
	buf.SequenceNumber = 42
	buf.WatermarkTime = time.Now()

	buf.Reset()

	assert.Equal(t, uint64(0), buf.NumberOfTuples())
	assert.Equal(t, uint64(0), buf.OriginID)
	assert.Equal(t, uint64(0), buf.SequenceNumber)
	assert.True(t, buf.WatermarkTime.IsZero())
}

func TestBufferPool_GetBlockingAndRelease(t *testing.T) {
	pool := NewBufferPool(2, 16)

	ctx := context.Background()
	b1, err := pool.GetBlocking(ctx)
	require.NoError(t, err)
	b2, err := pool.GetBlocking(ctx)
	require.NoError(t, err)

	_, ok := pool.TryGet()
	assert.False(t, ok, "pool exhausted after checking out both buffers")

	pool.Release(b1)
	got, ok := pool.TryGet()
	require.True(t, ok)
	assert.Same(t, b1, got)

	pool.Release(b2)
}

func TestBufferPool_GetBlockingRespectsContextCancellation(t *testing.T) {
	pool := NewBufferPool(1, 16)

	ctx := context.Background()
	_, err := pool.GetBlocking(ctx)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.GetBlocking(cancelled)
	assert.Error(t, err)
}

func TestBufferPool_ReleaseResetsBuffer(t *testing.T) {
	pool := NewBufferPool(1, 8)
	buf, err := pool.GetBlocking(context.Background())
	require.NoError(t, err)

	buf.SetNumberOfTuples(4)
	pool.Release(buf)

	got, ok := pool.TryGet()
	require.True(t, ok)
	assert.Equal(t, uint64(0), got.NumberOfTuples())
}
