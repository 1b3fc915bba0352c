package placement

import (
	"testing"

	"github.com/cuemby/nebula/pkg/nesnet"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNetworkSourceOp(id operator.ID, upstreamNonSystemID uint64, loc nesnet.NodeLocation) *operator.Operator {
	op := operator.NewOperator(id, operator.KindNetworkSource)
	op.Properties[operator.PropUpstreamNonSystemOperatorID] = upstreamNonSystemID
	op.Properties[operator.PropNetworkDescriptor] = &nesnet.NetworkSourceDescriptor{
		UniqueID:        "orig",
		Version:         1,
		Location:        loc,
		NumberOfOrigins: 1,
	}
	return op
}

func newNetworkSinkOp(id operator.ID, downstreamNonSystemID uint64, loc nesnet.NodeLocation) *operator.Operator {
	op := operator.NewOperator(id, operator.KindNetworkSink)
	op.Properties[operator.PropDownstreamNonSystemOperatorID] = downstreamNonSystemID
	op.Properties[operator.PropNetworkDescriptor] = &nesnet.NetworkSinkDescriptor{
		UniqueID: "orig",
		Version:  1,
		Location: loc,
	}
	return op
}

func TestTryMergingSource_SameUpstreamFuses(t *testing.T) {
	existing := newNetworkSourceOp(10, 3, nesnet.NodeLocation{NodeID: 1, Address: "10.0.0.1", Port: 9000})
	candidate := newNetworkSourceOp(11, 3, nesnet.NodeLocation{NodeID: 1, Address: "10.0.0.2", Port: 9001})
	candidate.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSourceDescriptor).NumberOfOrigins = 2

	ok := tryMergingSource(existing, candidate)
	require.True(t, ok)

	desc := existing.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSourceDescriptor)
	assert.Equal(t, "orig", desc.UniqueID, "uniqueId survives the merge")
	assert.Equal(t, uint64(2), desc.Version)
	assert.Equal(t, "10.0.0.2", desc.Location.Address, "location rewritten to the candidate's")
	assert.Equal(t, 2, desc.NumberOfOrigins)
	assert.Equal(t, operator.StateToBeReplaced, existing.State)
}

func TestTryMergingSource_DifferentUpstreamNoFuse(t *testing.T) {
	existing := newNetworkSourceOp(10, 3, nesnet.NodeLocation{NodeID: 1})
	candidate := newNetworkSourceOp(11, 4, nesnet.NodeLocation{NodeID: 1})

	ok := tryMergingSource(existing, candidate)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), existing.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSourceDescriptor).Version, "untouched on no-match")
}

func TestTryMergingSource_WrongKindNoFuse(t *testing.T) {
	existing := newNetworkSourceOp(10, 3, nesnet.NodeLocation{NodeID: 1})
	candidate := newNetworkSinkOp(11, 3, nesnet.NodeLocation{NodeID: 1})
	assert.False(t, tryMergingSource(existing, candidate))
}

func TestTryMergingSink_SameDownstreamFuses(t *testing.T) {
	existing := newNetworkSinkOp(20, 4, nesnet.NodeLocation{NodeID: 0, Address: "10.0.0.9", Port: 9000})
	candidate := newNetworkSinkOp(21, 4, nesnet.NodeLocation{NodeID: 0, Address: "10.0.0.10", Port: 9001})

	ok := tryMergingSink(existing, candidate)
	require.True(t, ok)

	desc := existing.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSinkDescriptor)
	assert.Equal(t, "10.0.0.10", desc.Location.Address)
	assert.Equal(t, uint64(2), desc.Version)
	assert.Equal(t, operator.StateToBeReplaced, existing.State)
}

func TestTryMergingSink_DifferentDownstreamNoFuse(t *testing.T) {
	existing := newNetworkSinkOp(20, 4, nesnet.NodeLocation{NodeID: 0})
	candidate := newNetworkSinkOp(21, 5, nesnet.NodeLocation{NodeID: 0})
	assert.False(t, tryMergingSink(existing, candidate))
}

func TestFindNetworkCounterpart(t *testing.T) {
	source := newNetworkSourceOp(10, 3, nesnet.NodeLocation{NodeID: 1})
	sink := newNetworkSinkOp(20, 4, nesnet.NodeLocation{NodeID: 0})
	plans := []*operator.Operator{source, sink}

	found := findNetworkCounterpart(plans, operator.KindNetworkSource, operator.PropUpstreamNonSystemOperatorID, 3)
	require.NotNil(t, found)
	assert.Equal(t, operator.ID(10), found.ID)

	assert.Nil(t, findNetworkCounterpart(plans, operator.KindNetworkSource, operator.PropUpstreamNonSystemOperatorID, 99))
}
