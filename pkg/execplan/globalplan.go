package execplan

import (
	"sync"

	"github.com/cuemby/nebula/pkg/neserr"
)

// GlobalPlan is the engine-wide set of execution nodes, one per
// topology node that currently hosts at least one sub-plan. It mirrors
// the hosting topology subgraph and is the unit replicated by the raft
// FSM and persisted through the ExecPlanStore.
type GlobalPlan struct {
	mu    sync.RWMutex
	nodes map[uint64]*ExecutionNode
}

// NewGlobalPlan creates an empty global execution plan.
func NewGlobalPlan() *GlobalPlan {
	return &GlobalPlan{nodes: make(map[uint64]*ExecutionNode)}
}

// ExecutionNode returns the execution node for workerID, creating it if
// this is the first sub-plan ever placed there.
func (g *GlobalPlan) ExecutionNode(workerID uint64) *ExecutionNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[workerID]
	if !ok {
		n = NewExecutionNode(workerID)
		g.nodes[workerID] = n
	}
	return n
}

// ExecutionNodes returns a snapshot of all execution nodes.
func (g *GlobalPlan) ExecutionNodes() []*ExecutionNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*ExecutionNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// FindSubPlan searches every execution node for a sub-plan of
// sharedQueryID that already contains opID.
func (g *GlobalPlan) FindSubPlan(sharedQueryID, opID uint64) (*SubPlan, uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for workerID, n := range g.nodes {
		if sp := n.FindByOperator(sharedQueryID, opID); sp != nil {
			return sp, workerID, nil
		}
	}
	return nil, 0, neserr.ErrUnknownOperator
}

// Snapshot captures the entire global plan for persistence/replication.
type Snapshot struct {
	// SubPlans is keyed by (SharedQueryID, WorkerID, SubPlanID) at the
	// storage layer; here it is simply the flat list of every sub-plan
	// known to the plan.
	SubPlans []*SubPlan
}

// Snapshot captures the current state of the global plan.
func (g *GlobalPlan) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := &Snapshot{}
	for _, n := range g.nodes {
		n.mu.RLock()
		for _, plans := range n.byQuery {
			snap.SubPlans = append(snap.SubPlans, plans...)
		}
		n.mu.RUnlock()
	}
	return snap
}

// Restore replaces the plan's contents with the given snapshot.
func (g *GlobalPlan) Restore(snap *Snapshot) {
	g.mu.Lock()
	g.nodes = make(map[uint64]*ExecutionNode)
	g.mu.Unlock()

	for _, sp := range snap.SubPlans {
		g.ExecutionNode(sp.WorkerID).AddSubPlan(sp)
	}
}
