package placement

import (
	"fmt"
	"net"
	"strconv"

	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/nesid"
	"github.com/cuemby/nebula/pkg/nesnet"
	"github.com/cuemby/nebula/pkg/operator"
)

// addNetworkOperators walks every computed sub-plan for leaf operators
// whose upstream is not fully co-located, and splices in a matched
// network sink/source pair (and, for multi-hop paths, relay sub-plans
// on the intermediate workers) for each such cross-worker edge.
func (p *Planner) addNetworkOperators(a Amendment, subPlans map[uint64]*execplan.SubPlan) (*Result, error) {
	result := &Result{SubPlansByWorker: make(map[uint64][]*execplan.SubPlan, len(subPlans))}
	relaysByWorker := make(map[uint64][]*execplan.SubPlan)

	for workerID, sp := range subPlans {
		// Any operator not fully co-located with its upstream (some or
		// all of its children absent from this sub-plan, including true
		// leaves with zero children — trivially co-located) needs a
		// network source per missing child.
		for _, leaf := range operatorsOf(sp) {
			if leaf.CoLocatedUpstream() {
				continue
			}
			for _, childID := range leaf.Children {
				if sp.Has(childID) {
					continue
				}
				childOp := a.Plan.Get(childID)
				if childOp == nil {
					continue
				}
				upstreamWorker, ok := childOp.PinnedWorkerID()
				if !ok || upstreamWorker == workerID {
					continue
				}
				upstreamSubPlan := subPlans[upstreamWorker]
				if upstreamSubPlan == nil {
					continue
				}

				if err := p.spliceNetworkPath(a, upstreamWorker, workerID, childOp, leaf, upstreamSubPlan, sp, relaysByWorker); err != nil {
					return nil, err
				}
			}
		}
	}

	for workerID, sp := range subPlans {
		result.SubPlansByWorker[workerID] = append(result.SubPlansByWorker[workerID], sp)
	}
	for workerID, relays := range relaysByWorker {
		result.SubPlansByWorker[workerID] = append(result.SubPlansByWorker[workerID], relays...)
	}
	return result, nil
}

// spliceNetworkPath inserts a network sink at the upstream worker, a
// network source at the downstream worker, and a relay sub-plan
// (source feeding sink) on every intermediate worker along the topology
// path connecting them.
func (p *Planner) spliceNetworkPath(
	a Amendment,
	upstreamWorker, downstreamWorker uint64,
	upstreamOp, leafOp *operator.Operator,
	upstreamSubPlan, downstreamSubPlan *execplan.SubPlan,
	relaysByWorker map[uint64][]*execplan.SubPlan,
) error {
	path, err := p.finder.FindNodesBetween(upstreamWorker, downstreamWorker)
	if err != nil {
		return err
	}
	if len(path) < 2 {
		return fmt.Errorf("placement: degenerate network path %d->%d", upstreamWorker, downstreamWorker)
	}

	partition := nesnet.NewPartition(a.SharedQueryID, uint64(upstreamOp.ID))
	uniqueID := nesid.NewDescriptorUniqueID()
	var relaySubPlanIDs []uint64

	for i, nodeID := range path {
		switch {
		case i == 0:
			sinkOp := p.newNetworkSink(upstreamOp, leafOp, partition, uniqueID, nodeLocation(p, path[1]))
			linkSinkToUpstream(upstreamOp, sinkOp)
			upstreamSubPlan.AddOperator(sinkOp)
			metrics.NetworkOperatorsInsertedTotal.WithLabelValues("sink").Inc()

		case i == len(path)-1:
			sourceOp := p.newNetworkSource(upstreamOp, leafOp, partition, uniqueID, nodeLocation(p, path[len(path)-2]))
			linkSourceToLeaf(leafOp, sourceOp)
			downstreamSubPlan.AddOperator(sourceOp)
			metrics.NetworkOperatorsInsertedTotal.WithLabelValues("source").Inc()

		default:
			relaySource := p.newNetworkSource(upstreamOp, leafOp, partition, nesid.NewDescriptorUniqueID(), nodeLocation(p, path[i-1]))
			relaySink := p.newNetworkSink(upstreamOp, leafOp, partition, nesid.NewDescriptorUniqueID(), nodeLocation(p, path[i+1]))
			relaySink.Children = []operator.ID{relaySource.ID}
			relaySource.Parents = []operator.ID{relaySink.ID}

			relay := execplan.NewSubPlan(p.subIDs.Next(), a.SharedQueryID, nodeID)
			relay.AddOperator(relaySource)
			relay.AddOperator(relaySink)
			relaysByWorker[nodeID] = append(relaysByWorker[nodeID], relay)
			relaySubPlanIDs = append(relaySubPlanIDs, relay.ID)

			metrics.NetworkOperatorsInsertedTotal.WithLabelValues("source").Inc()
			metrics.NetworkOperatorsInsertedTotal.WithLabelValues("sink").Inc()
		}
	}

	if len(relaySubPlanIDs) > 0 {
		leafOp.Properties[operator.PropConnectedSysSubPlanDetails] = relaySubPlanIDs
	}
	return nil
}

// operatorsOf returns every operator currently in sp, snapshotted before
// iteration since addNetworkOperators mutates sp as it goes.
func operatorsOf(sp *execplan.SubPlan) []*operator.Operator {
	out := make([]*operator.Operator, 0, len(sp.Operators))
	for _, op := range sp.Operators {
		out = append(out, op)
	}
	return out
}

// nodeLocation resolves workerID's nesnet.NodeLocation from the topology,
// splitting the node's "host:port" Address into nesnet's separate
// Address/Port fields. A node registered with a bare host (no port) is
// passed through unchanged with Port left at zero.
func nodeLocation(p *Planner, workerID uint64) nesnet.NodeLocation {
	node, err := p.topo.Node(workerID)
	if err != nil {
		return nesnet.NodeLocation{NodeID: workerID}
	}
	host, portStr, err := net.SplitHostPort(node.Address)
	if err != nil {
		return nesnet.NodeLocation{NodeID: workerID, Address: node.Address}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nesnet.NodeLocation{NodeID: workerID, Address: host}
	}
	return nesnet.NodeLocation{NodeID: workerID, Address: host, Port: port}
}

func (p *Planner) newNetworkSink(upstreamOp, downstreamOp *operator.Operator, partition nesnet.Partition, uniqueID string, peer nesnet.NodeLocation) *operator.Operator {
	sink := operator.NewOperator(p.nextNetOpID(), operator.KindNetworkSink)
	sink.InputSchema = upstreamOp.OutputSchema
	sink.OutputSchema = upstreamOp.OutputSchema
	sink.Properties[operator.PropUpstreamNonSystemOperatorID] = uint64(upstreamOp.ID)
	sink.Properties[operator.PropDownstreamNonSystemOperatorID] = uint64(downstreamOp.ID)
	sink.Properties[operator.PropNetworkDescriptor] = &nesnet.NetworkSinkDescriptor{
		UniqueID:                    uniqueID,
		Version:                     1,
		Location:                    peer,
		Partition:                   partition,
		Retry:                       nesnet.RetryPolicy{Wait: p.cfg.SinkRetry.BaseWait, Retries: p.cfg.SinkRetry.MaxTries},
		UpstreamNonSystemOperatorID: uint64(upstreamOp.ID),
	}
	sink.State = operator.StatePlaced
	return sink
}

func (p *Planner) newNetworkSource(upstreamOp, downstreamOp *operator.Operator, partition nesnet.Partition, uniqueID string, peer nesnet.NodeLocation) *operator.Operator {
	source := operator.NewOperator(p.nextNetOpID(), operator.KindNetworkSource)
	source.InputSchema = upstreamOp.OutputSchema
	source.OutputSchema = upstreamOp.OutputSchema
	source.Properties[operator.PropUpstreamNonSystemOperatorID] = uint64(upstreamOp.ID)
	source.Properties[operator.PropDownstreamNonSystemOperatorID] = uint64(downstreamOp.ID)
	source.Properties[operator.PropNetworkDescriptor] = &nesnet.NetworkSourceDescriptor{
		UniqueID:                      uniqueID,
		Version:                       1,
		Location:                      peer,
		Partition:                     partition,
		Retry:                         nesnet.RetryPolicy{Wait: p.cfg.SourceRetry.BaseWait, Retries: p.cfg.SourceRetry.MaxTries},
		NumberOfOrigins:               1,
		DownstreamNonSystemOperatorID: uint64(downstreamOp.ID),
	}
	source.State = operator.StatePlaced
	return source
}

// linkSinkToUpstream wires sinkOp as upstreamOp's new parent within the
// upstream sub-plan.
func linkSinkToUpstream(upstreamOp, sinkOp *operator.Operator) {
	sinkOp.Children = []operator.ID{upstreamOp.ID}
	if !hasID(upstreamOp.Parents, sinkOp.ID) {
		upstreamOp.Parents = append(upstreamOp.Parents, sinkOp.ID)
	}
}

// linkSourceToLeaf wires sourceOp as a new child of leafOp within the
// downstream sub-plan.
func linkSourceToLeaf(leafOp, sourceOp *operator.Operator) {
	sourceOp.Parents = []operator.ID{leafOp.ID}
	if !hasID(leafOp.Children, sourceOp.ID) {
		leafOp.Children = append(leafOp.Children, sourceOp.ID)
	}
}

func hasID(ids []operator.ID, id operator.ID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
