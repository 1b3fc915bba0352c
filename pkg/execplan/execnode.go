package execplan

import "sync"

// ExecutionNode is the per-topology-node container of sub-plans,
// grouped by shared query id so an amendment can find all sub-plans
// belonging to one query deployed on one worker.
type ExecutionNode struct {
	WorkerID uint64

	mu      sync.RWMutex
	byQuery map[uint64][]*SubPlan
}

// NewExecutionNode creates an empty execution node for workerID.
func NewExecutionNode(workerID uint64) *ExecutionNode {
	return &ExecutionNode{
		WorkerID: workerID,
		byQuery:  make(map[uint64][]*SubPlan),
	}
}

// SubPlans returns the sub-plans hosted on this node for sharedQueryID.
func (n *ExecutionNode) SubPlans(sharedQueryID uint64) []*SubPlan {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*SubPlan(nil), n.byQuery[sharedQueryID]...)
}

// AddSubPlan registers a newly computed sub-plan on this node.
func (n *ExecutionNode) AddSubPlan(sp *SubPlan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byQuery[sp.SharedQueryID] = append(n.byQuery[sp.SharedQueryID], sp)
}

// RemoveSubPlan drops a sub-plan from this node by id, used when two
// sub-plans merge into a single replacement.
func (n *ExecutionNode) RemoveSubPlan(sharedQueryID, subPlanID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	plans := n.byQuery[sharedQueryID]
	for i, sp := range plans {
		if sp.ID == subPlanID {
			n.byQuery[sharedQueryID] = append(plans[:i], plans[i+1:]...)
			return
		}
	}
}

// FindByOperator returns the sub-plan in sharedQueryID that already
// contains opID, if any.
func (n *ExecutionNode) FindByOperator(sharedQueryID uint64, opID uint64) *SubPlan {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sp := range n.byQuery[sharedQueryID] {
		for id := range sp.Operators {
			if uint64(id) == opID {
				return sp
			}
		}
	}
	return nil
}
