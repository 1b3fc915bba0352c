// Package execplan tracks the Global Execution Plan: the set of query
// sub-plans actually deployed to each topology node, replicated across
// the coordinator quorum via raft and persisted to BoltDB.
package execplan

import (
	"github.com/cuemby/nebula/pkg/nesid"
	"github.com/cuemby/nebula/pkg/operator"
)

// SubPlanState is the deployment lifecycle of a query sub-plan.
type SubPlanState int

const (
	SubPlanScheduled SubPlanState = iota
	SubPlanDeployed
	SubPlanMarkedForRedeployment
	SubPlanStopped
)

func (s SubPlanState) String() string {
	switch s {
	case SubPlanScheduled:
		return "SCHEDULED"
	case SubPlanDeployed:
		return "DEPLOYED"
	case SubPlanMarkedForRedeployment:
		return "MARKED_FOR_REDEPLOYMENT"
	case SubPlanStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// SubPlan is a contiguous fragment of a logical plan deployed as a unit
// onto a single topology node.
type SubPlan struct {
	ID            uint64
	SharedQueryID uint64
	WorkerID      uint64
	Version       uint64
	State         SubPlanState
	// Roots holds the operator ids with no parent within this sub-plan
	// (its exit points when walking downstream).
	Roots     []operator.ID
	Operators map[operator.ID]*operator.Operator
}

// NewSubPlan creates an empty sub-plan pinned to workerID under the
// given shared query, carrying id as given. An id of
// nesid.InvalidSubPlanID stays invalid until the caller fuses the
// sub-plan with an existing placed one or assigns it a real id.
func NewSubPlan(id, sharedQueryID, workerID uint64) *SubPlan {
	return &SubPlan{
		ID:            id,
		SharedQueryID: sharedQueryID,
		WorkerID:      workerID,
		State:         SubPlanScheduled,
		Operators:     make(map[operator.ID]*operator.Operator),
	}
}

// IsInvalid reports whether this sub-plan was never assigned a real id
// because its sole operator fused into an already-placed sub-plan.
func (p *SubPlan) IsInvalid() bool {
	return p.ID == nesid.InvalidSubPlanID
}

// AddOperator inserts op into the sub-plan. Any of op's children
// already present lose their root status, since op is now their parent
// within this sub-plan. If op itself has no parent already present, it
// becomes a root.
func (p *SubPlan) AddOperator(op *operator.Operator) {
	p.Operators[op.ID] = op
	for _, childID := range op.Children {
		if _, ok := p.Operators[childID]; ok {
			p.removeRoot(childID)
		}
	}
	for _, parentID := range op.Parents {
		if _, ok := p.Operators[parentID]; ok {
			return
		}
	}
	p.addRoot(op.ID)
}

func (p *SubPlan) addRoot(id operator.ID) {
	for _, r := range p.Roots {
		if r == id {
			return
		}
	}
	p.Roots = append(p.Roots, id)
}

// removeRoot drops id from Roots, if present.
func (p *SubPlan) removeRoot(id operator.ID) {
	for i, r := range p.Roots {
		if r == id {
			p.Roots = append(p.Roots[:i], p.Roots[i+1:]...)
			return
		}
	}
}

// Has reports whether opID is already part of this sub-plan.
func (p *SubPlan) Has(opID operator.ID) bool {
	_, ok := p.Operators[opID]
	return ok
}

// Leaves returns the operators in this sub-plan with no child present
// in the sub-plan (its entry points when walking downstream).
func (p *SubPlan) Leaves() []*operator.Operator {
	var leaves []*operator.Operator
	for _, op := range p.Operators {
		isLeaf := true
		for _, childID := range op.Children {
			if p.Has(childID) {
				isLeaf = false
				break
			}
		}
		if isLeaf {
			leaves = append(leaves, op)
		}
	}
	return leaves
}

// MergeFrom absorbs other's operators and roots into p, reparenting
// other's roots under whatever already connects them in p. Used when
// computeSubPlans discovers that placing a single operator bridges two
// previously separate sub-plans on the same worker.
func (p *SubPlan) MergeFrom(other *SubPlan) {
	for id, op := range other.Operators {
		p.Operators[id] = op
	}
	for _, r := range other.Roots {
		hasParentInP := false
		if op, ok := p.Operators[r]; ok {
			for _, parentID := range op.Parents {
				if _, ok := p.Operators[parentID]; ok {
					hasParentInP = true
					break
				}
			}
		}
		if !hasParentInP {
			p.addRoot(r)
		}
	}
}

// Bump increments the sub-plan's version, used whenever its descriptor
// set changes under merging/replacement.
func (p *SubPlan) Bump() {
	p.Version++
}

// ReplaceRoot swaps old for new within Roots, used when a freshly
// spliced network operator adopts an already-placed counterpart's
// identity during a merge and the sub-plan's root bookkeeping must
// follow it.
func (p *SubPlan) ReplaceRoot(old, new operator.ID) {
	for i, r := range p.Roots {
		if r == old {
			p.Roots[i] = new
			return
		}
	}
}
