package placement

import (
	"fmt"
	"math"

	"github.com/cuemby/nebula/pkg/config"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/topology"
)

// WorkloadType classifies a candidate path's dominant resource pressure,
// used to split the fault-tolerance placement score's resource weight
// between memory and network.
type WorkloadType string

const (
	WorkloadMemoryHeavy  WorkloadType = "MEMORY_HEAVY"
	WorkloadCPUHeavy     WorkloadType = "CPU_HEAVY"
	WorkloadNetworkHeavy WorkloadType = "NETWORK_HEAVY"
)

// ClassifyWorkload inspects the operators riding a candidate path and
// returns its dominant workload type: MEMORY_HEAVY if any window or join
// operator is present, NETWORK_HEAVY if the path terminates in a sink
// with no window/join upstream, CPU_HEAVY otherwise.
func ClassifyWorkload(ops []*operator.Operator) WorkloadType {
	hasSink := false
	for _, op := range ops {
		switch op.Kind {
		case operator.KindWindow, operator.KindJoin:
			return WorkloadMemoryHeavy
		case operator.KindSink, operator.KindNetworkSink:
			hasSink = true
		}
	}
	if hasSink {
		return WorkloadNetworkHeavy
	}
	return WorkloadCPUHeavy
}

// ftWeights holds the safety/memory/network weights for a given
// (FaultToleranceMode, WorkloadType) pair.
type ftWeights struct {
	safety float64
	mem    float64
	net    float64
}

func weightsFor(mode config.FaultToleranceMode, workload WorkloadType) ftWeights {
	var safety, resources float64
	switch mode {
	case config.FTExactlyOnce:
		safety, resources = 0.75, 0.25
	case config.FTAtLeastOnce:
		safety, resources = 0.50, 0.50
	case config.FTAtMostOnce:
		safety, resources = 0.25, 0.75
	default: // FTNone
		safety, resources = 0, 1
	}

	var mem, net float64
	switch workload {
	case WorkloadMemoryHeavy:
		mem, net = 0.7*resources, 0.3*resources
	case WorkloadNetworkHeavy:
		mem, net = 0.3*resources, 0.7*resources
	default: // CPU_HEAVY
		mem, net = 0.5*resources, 0.5*resources
	}
	return ftWeights{safety: safety, mem: mem, net: net}
}

// minSubsetFraction returns the minimum fraction of path nodes that must
// buffer for a given fault-tolerance mode.
func minSubsetFraction(mode config.FaultToleranceMode) float64 {
	switch mode {
	case config.FTExactlyOnce:
		return 0.75
	case config.FTAtLeastOnce:
		return 0.50
	case config.FTAtMostOnce:
		return 0.25
	default:
		return 0
	}
}

// NodeRequirement is the per-node resource demand the fault-tolerance
// planner weighs against each node's headroom.
type NodeRequirement struct {
	IngestionRate    int64 // tuples per epoch
	Epoch            int64
	TupleSize        int64
	DistanceFromSource int64
}

func (r NodeRequirement) requiredNetwork() int64 {
	if r.Epoch == 0 {
		return 0
	}
	return (r.IngestionRate / r.Epoch) * r.TupleSize
}

func (r NodeRequirement) requiredMemory() int64 {
	return (r.IngestionRate*r.DistanceFromSource + r.Epoch) * r.TupleSize
}

// FTPlanner chooses buffering nodes along a topology path under a
// fault-tolerance mode.
type FTPlanner struct {
	topo *topology.Graph
}

// NewFTPlanner wraps a topology graph for fault-tolerance placement.
func NewFTPlanner(topo *topology.Graph) *FTPlanner {
	return &FTPlanner{topo: topo}
}

// ChooseBuffering runs the greedy downstream-first heuristic over path,
// mutating each chosen node's available memory/network, isBuffering
// flag, and epoch. It rejects the path (leaving the topology
// untouched) if the resulting buffering set falls below the mode's
// minimum fraction of path length.
func (fp *FTPlanner) ChooseBuffering(path []uint64, ops []*operator.Operator, mode config.FaultToleranceMode, req NodeRequirement) ([]uint64, float64, error) {
	if mode == config.FTNone {
		return nil, 0, nil
	}
	if len(path) == 0 {
		return nil, 0, fmt.Errorf("placement: empty candidate path: %w", neserr.ErrPathUnavailable)
	}

	workload := ClassifyWorkload(ops)
	w := weightsFor(mode, workload)

	var chosen []uint64
	var mutated []uint64
	providedSafety := 0.0
	var netHeadroomSpan, memHeadroomSpan int64

	nodes := make([]*topology.Node, 0, len(path))
	for _, id := range path {
		n, err := fp.topo.Node(id)
		if err != nil {
			fp.rollback(mutated, req)
			return nil, 0, err
		}
		nodes = append(nodes, n)
		if n.Resources.AvailableNetwork > netHeadroomSpan {
			netHeadroomSpan = n.Resources.AvailableNetwork
		}
		if n.Resources.AvailableMemory > memHeadroomSpan {
			memHeadroomSpan = n.Resources.AvailableMemory
		}
	}
	if netHeadroomSpan == 0 {
		netHeadroomSpan = 1
	}
	if memHeadroomSpan == 0 {
		memHeadroomSpan = 1
	}

	requiredNet := req.requiredNetwork()
	requiredMem := req.requiredMemory()

	// Greedy from the downstream end: extend the buffering set while
	// capacity permits.
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if n.Resources.AvailableMemory < requiredMem || n.Resources.AvailableNetwork < requiredNet {
			continue
		}

		providedSafety = n.Reliability + providedSafety*(1-n.Reliability)

		if err := fp.topo.ReduceMemory(n.ID, requiredMem); err != nil {
			fp.rollback(mutated, req)
			return nil, 0, err
		}
		if err := fp.topo.ReduceNetwork(n.ID, requiredNet); err != nil {
			fp.rollback(mutated, req)
			return nil, 0, err
		}
		if err := fp.topo.MarkBuffering(n.ID); err != nil {
			fp.rollback(mutated, req)
			return nil, 0, err
		}
		newEpoch := n.Epoch + 1
		if err := fp.topo.SetEpoch(n.ID, newEpoch); err != nil {
			fp.rollback(mutated, req)
			return nil, 0, err
		}

		mutated = append(mutated, n.ID)
		chosen = append(chosen, n.ID)
	}

	minSize := int(math.Floor(float64(len(path)) * minSubsetFraction(mode)))
	if len(chosen) < minSize {
		fp.rollback(mutated, req)
		return nil, 0, fmt.Errorf("placement: buffering set size %d below minimum %d for mode %s: %w", len(chosen), minSize, mode, neserr.ErrResourceExhausted)
	}

	netHeadroom := netHeadroomSpan - requiredNet
	if netHeadroom < 0 {
		netHeadroom = 0
	}
	memHeadroom := memHeadroomSpan - requiredMem
	if memHeadroom < 0 {
		memHeadroom = 0
	}

	score := w.net*(float64(netHeadroom)/float64(netHeadroomSpan)) +
		w.mem*(float64(memHeadroom)/float64(memHeadroomSpan)) +
		w.safety*providedSafety

	metrics.FTPlacementScore.Observe(score)
	metrics.FTBufferingNodesTotal.Add(float64(len(chosen)))
	return chosen, score, nil
}

// rollback reverses the memory/network reservation, epoch bump, and
// buffering flag MarkBuffering set on every node in mutated, leaving the
// topology exactly as it was before ChooseBuffering ran.
func (fp *FTPlanner) rollback(mutated []uint64, req NodeRequirement) {
	for _, id := range mutated {
		_ = fp.topo.ReduceMemory(id, -req.requiredMemory())
		_ = fp.topo.ReduceNetwork(id, -req.requiredNetwork())
		_ = fp.topo.ClearBuffering(id)
		if n, err := fp.topo.Node(id); err == nil {
			_ = fp.topo.SetEpoch(id, n.Epoch-1)
		}
	}
}
