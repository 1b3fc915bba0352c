package runtime

import (
	"testing"

	"github.com/cuemby/nebula/pkg/operator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateManager_StoreLoad(t *testing.T) {
	m := NewMemoryStateManager()

	_, ok := m.Load(1, "k")
	assert.False(t, ok)

	m.Store(1, "k", []byte("v"))
	v, ok := m.Load(1, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok = m.Load(2, "k")
	assert.False(t, ok)
}

func TestDefaultWindowHandler_TumblingWindowClosesOnWatermarkAdvance(t *testing.T) {
	desc := operator.WindowDescriptor{Kind: operator.WindowTumbling, Size: 10}
	h := NewDefaultWindowHandler(desc)
	state := h.GetTypedWindowState()

	require.NoError(t, state.Update("", 1, []byte("a")))
	require.NoError(t, h.Trigger())
	assert.Empty(t, state.Slices(), "bucket [0,10) shouldn't close until watermark reaches 10")

	require.NoError(t, state.Update("", 15, []byte("b")))
	require.NoError(t, h.Trigger())

	slices := state.Slices()
	require.Len(t, slices, 1)
	assert.Equal(t, int64(0), slices[0].StartTime)
	assert.Equal(t, []byte("a"), slices[0].Data)
}

func TestDefaultWindowHandler_ThresholdWindowClosesOnCount(t *testing.T) {
	desc := operator.WindowDescriptor{Kind: operator.WindowThreshold, Threshold: 2}
	h := NewDefaultWindowHandler(desc)
	state := h.GetTypedWindowState()

	require.NoError(t, state.Update("k1", 1, []byte("a")))
	require.NoError(t, h.Trigger())
	assert.Empty(t, state.Slices())

	require.NoError(t, state.Update("k1", 2, []byte("b")))
	require.NoError(t, h.Trigger())

	slices := state.Slices()
	require.Len(t, slices, 1)
	assert.Equal(t, []byte("b"), slices[0].Data)
}

func TestDefaultJoinHandler_SharedStateMatchesWithinSameWindow(t *testing.T) {
	h := NewDefaultJoinHandler()
	left := h.GetLeftJoinState()
	right := h.GetRightJoinState()

	require.NoError(t, left.AppendLeft("k", 0, 10, []byte("L")))
	require.NoError(t, right.AppendRight("k", 0, 10, []byte("R")))

	matches := left.Matches(0, 10)
	require.Len(t, matches, 1)
	assert.Equal(t, []byte("L"), matches[0][0])
	assert.Equal(t, []byte("R"), matches[0][1])

	assert.Empty(t, left.Matches(10, 20), "different window bucket shouldn't match")
}
