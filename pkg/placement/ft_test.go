package placement

import (
	"testing"

	"github.com/cuemby/nebula/pkg/config"
	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChainTopology(t *testing.T, availableMemory, availableNetwork int64) *topology.Graph {
	t.Helper()
	g := topology.NewGraph()
	for _, id := range []uint64{1, 2, 3} {
		require.NoError(t, g.AddNode(&topology.Node{
			ID:    id,
			Slots: 10,
			Resources: topology.Resources{
				AvailableMemory: availableMemory, InitialMemory: availableMemory,
				AvailableNetwork: availableNetwork, InitialNetwork: availableNetwork,
			},
			Reliability: 0.9,
		}))
	}
	require.NoError(t, g.Connect(1, 2, 1))
	require.NoError(t, g.Connect(2, 3, 1))
	return g
}

func TestClassifyWorkload(t *testing.T) {
	assert.Equal(t, WorkloadMemoryHeavy, ClassifyWorkload([]*operator.Operator{
		operator.NewOperator(1, operator.KindSource),
		operator.NewOperator(2, operator.KindWindow),
		operator.NewOperator(3, operator.KindSink),
	}))
	assert.Equal(t, WorkloadNetworkHeavy, ClassifyWorkload([]*operator.Operator{
		operator.NewOperator(1, operator.KindSource),
		operator.NewOperator(2, operator.KindSink),
	}))
	assert.Equal(t, WorkloadCPUHeavy, ClassifyWorkload([]*operator.Operator{
		operator.NewOperator(1, operator.KindSource),
		operator.NewOperator(2, operator.KindMap),
	}))
}

func TestWeightsFor_TableMatchesSpec(t *testing.T) {
	cases := []struct {
		mode           config.FaultToleranceMode
		wantSafety     float64
		wantResources  float64
	}{
		{config.FTExactlyOnce, 0.75, 0.25},
		{config.FTAtLeastOnce, 0.50, 0.50},
		{config.FTAtMostOnce, 0.25, 0.75},
		{config.FTNone, 0, 1},
	}
	for _, c := range cases {
		w := weightsFor(c.mode, WorkloadCPUHeavy)
		assert.InDelta(t, c.wantSafety, w.safety, 1e-9, string(c.mode))
		assert.InDelta(t, c.wantResources, w.mem+w.net, 1e-9, string(c.mode))
	}
}

func TestWeightsFor_ResourceSplitByWorkload(t *testing.T) {
	mem := weightsFor(config.FTExactlyOnce, WorkloadMemoryHeavy)
	assert.InDelta(t, 0.7*0.25, mem.mem, 1e-9)
	assert.InDelta(t, 0.3*0.25, mem.net, 1e-9)

	net := weightsFor(config.FTExactlyOnce, WorkloadNetworkHeavy)
	assert.InDelta(t, 0.3*0.25, net.mem, 1e-9)
	assert.InDelta(t, 0.7*0.25, net.net, 1e-9)

	cpu := weightsFor(config.FTExactlyOnce, WorkloadCPUHeavy)
	assert.InDelta(t, 0.5*0.25, cpu.mem, 1e-9)
	assert.InDelta(t, 0.5*0.25, cpu.net, 1e-9)
}

func TestFTPlanner_ChooseBuffering_NoneModeIsNoOp(t *testing.T) {
	topo := buildChainTopology(t, 1<<20, 1<<20)
	fp := NewFTPlanner(topo)

	chosen, score, err := fp.ChooseBuffering([]uint64{1, 2, 3}, nil, config.FTNone, NodeRequirement{})
	require.NoError(t, err)
	assert.Nil(t, chosen)
	assert.Zero(t, score)
}

func TestFTPlanner_ChooseBuffering_ExactlyOnceSelectsWholePath(t *testing.T) {
	topo := buildChainTopology(t, 1<<20, 1<<20)
	fp := NewFTPlanner(topo)
	path := []uint64{1, 2, 3}
	ops := []*operator.Operator{operator.NewOperator(1, operator.KindSource), operator.NewOperator(2, operator.KindSink)}
	req := NodeRequirement{IngestionRate: 100, Epoch: 10, TupleSize: 64, DistanceFromSource: 1}

	chosen, score, err := fp.ChooseBuffering(path, ops, config.FTExactlyOnce, req)
	require.NoError(t, err)
	assert.Len(t, chosen, 3, "ample capacity lets the greedy pass buffer every node on the path")
	assert.Greater(t, score, 0.0)

	for _, id := range path {
		n, err := topo.Node(id)
		require.NoError(t, err)
		assert.True(t, n.Properties[topology.PropIsBuffering].(bool))
		assert.Equal(t, int64(1), n.Epoch)
		assert.Less(t, n.Resources.AvailableMemory, int64(1<<20))
		assert.Less(t, n.Resources.AvailableNetwork, int64(1<<20))
	}
}

func TestFTPlanner_ChooseBuffering_RejectsBelowMinimumSubset(t *testing.T) {
	// Tight memory budget: only the last node (processed first by the
	// downstream-first greedy pass) can afford to buffer, which is below
	// EXACTLY_ONCE's 75%-of-path-length floor for a 3-node path (min 2).
	topo := buildChainTopology(t, 0, 1<<20)
	node3, err := topo.Node(3)
	require.NoError(t, err)
	node3.Resources.AvailableMemory = 1 << 20

	fp := NewFTPlanner(topo)
	path := []uint64{1, 2, 3}
	ops := []*operator.Operator{operator.NewOperator(1, operator.KindSource), operator.NewOperator(2, operator.KindSink)}
	req := NodeRequirement{IngestionRate: 100, Epoch: 10, TupleSize: 64, DistanceFromSource: 1}

	_, _, err = fp.ChooseBuffering(path, ops, config.FTExactlyOnce, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, neserr.ErrResourceExhausted)

	// Rejection must roll back the one node it tentatively mutated.
	n1, _ := topo.Node(1)
	assert.False(t, n1.Properties[topology.PropIsBuffering] != nil && n1.Properties[topology.PropIsBuffering].(bool))
	n3, _ := topo.Node(3)
	assert.Equal(t, int64(0), n3.Epoch, "rollback restores the mutated node's epoch")
	assert.False(t, n3.Properties[topology.PropIsBuffering].(bool), "rollback clears the buffering flag")
}

func TestFTPlanner_ChooseBuffering_AtMostOnceAcceptsSparseSubset(t *testing.T) {
	topo := buildChainTopology(t, 0, 1<<20)
	node3, err := topo.Node(3)
	require.NoError(t, err)
	node3.Resources.AvailableMemory = 1 << 20

	fp := NewFTPlanner(topo)
	path := []uint64{1, 2, 3}
	ops := []*operator.Operator{operator.NewOperator(1, operator.KindSource), operator.NewOperator(2, operator.KindSink)}
	req := NodeRequirement{IngestionRate: 100, Epoch: 10, TupleSize: 64, DistanceFromSource: 1}

	chosen, _, err := fp.ChooseBuffering(path, ops, config.FTAtMostOnce, req)
	require.NoError(t, err, "AT_MOST_ONCE's 25%% floor on a 3-node path is 0, so a single buffering node suffices")
	assert.Len(t, chosen, 1)
}

func TestFTPlanner_ChooseBuffering_ScorePrefersMoreHeadroom(t *testing.T) {
	// Same topology and mode, two different demand levels: the path that
	// demands less of each node's capacity (more headroom left over)
	// must score higher, never lower.
	ops := []*operator.Operator{operator.NewOperator(1, operator.KindSource), operator.NewOperator(2, operator.KindSink)}

	lightTopo := buildChainTopology(t, 1<<20, 1<<20)
	_, lightScore, err := NewFTPlanner(lightTopo).ChooseBuffering(
		[]uint64{1, 2, 3}, ops, config.FTExactlyOnce,
		NodeRequirement{IngestionRate: 10, Epoch: 10, TupleSize: 64, DistanceFromSource: 1},
	)
	require.NoError(t, err)

	heavyTopo := buildChainTopology(t, 1<<20, 1<<20)
	_, heavyScore, err := NewFTPlanner(heavyTopo).ChooseBuffering(
		[]uint64{1, 2, 3}, ops, config.FTExactlyOnce,
		NodeRequirement{IngestionRate: 10000, Epoch: 10, TupleSize: 64, DistanceFromSource: 1},
	)
	require.NoError(t, err)

	assert.Greater(t, lightScore, heavyScore, "a path with more headroom left over must score higher than one that demands more of each node's capacity")
}

func TestNodeRequirement_Formulas(t *testing.T) {
	req := NodeRequirement{IngestionRate: 1000, Epoch: 10, TupleSize: 8, DistanceFromSource: 3}
	assert.Equal(t, int64(800), req.requiredNetwork(), "ingestionRate/epoch * tupleSize")
	assert.Equal(t, int64((1000*3+10)*8), req.requiredMemory(), "(ingestionRate*distance + epoch) * tupleSize")
}
