package placement

import (
	"fmt"

	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/nesid"
	"github.com/cuemby/nebula/pkg/operator"
)

// computeSubPlans walks a.Plan in strict BFS order from the pinned
// upstream operators toward the pinned downstream operators (never past
// them), assigning each operator to the worker it is pinned to —
// inheriting the assignment from an already-visited child when the
// operator itself carries no explicit pin — and coalescing the result
// into per-worker sub-plans per the merge rules: an operator joins an
// existing sub-plan if one of its upstream (child) operators is already
// in it, and multiple such sub-plans fuse into one when an operator
// bridges them.
func (p *Planner) computeSubPlans(a Amendment) (map[uint64]*execplan.SubPlan, error) {
	plan := a.Plan
	pinnedDownstream := make(map[operator.ID]bool, len(a.PinnedDownstream))
	for _, op := range a.PinnedDownstream {
		pinnedDownstream[op.ID] = true
	}

	workerOf := make(map[operator.ID]uint64)
	visited := make(map[operator.ID]bool)
	var queue []*operator.Operator
	for _, op := range a.PinnedUpstream {
		workerID, ok := op.PinnedWorkerID()
		if !ok {
			return nil, fmt.Errorf("placement: pinned upstream operator %d missing worker pin: %w", op.ID, neserr.ErrPlacementCorruption)
		}
		workerOf[op.ID] = workerID
		queue = append(queue, op)
		visited[op.ID] = true
	}

	byWorker := make(map[uint64][]*execplan.SubPlan)

	for len(queue) > 0 {
		op := queue[0]
		queue = queue[1:]

		workerID, ok := workerOf[op.ID]
		if !ok {
			return nil, fmt.Errorf("placement: operator %d resolved to no worker: %w", op.ID, neserr.ErrPlacementCorruption)
		}

		if err := p.placeOperator(a.SharedQueryID, op, workerID, byWorker); err != nil {
			return nil, err
		}

		if pinnedDownstream[op.ID] {
			continue
		}
		for _, parentID := range op.Parents {
			if visited[parentID] {
				continue
			}
			parent := plan.Get(parentID)
			if parent == nil {
				// A network sink spliced in by an earlier amendment is
				// linked as a parent of its upstream operator but is not
				// part of the logical plan; its id comes from netOpIDs,
				// which starts at 1<<32.
				if uint64(parentID) >= 1<<32 {
					continue
				}
				return nil, fmt.Errorf("placement: operator %d: %w", parentID, neserr.ErrUnknownOperator)
			}
			visited[parentID] = true
			if pinned, ok := parent.PinnedWorkerID(); ok {
				workerOf[parentID] = pinned
			} else {
				workerOf[parentID] = workerID
			}
			queue = append(queue, parent)
		}
	}

	result := make(map[uint64]*execplan.SubPlan, len(byWorker))
	for workerID, plans := range byWorker {
		merged := plans[0]
		for _, extra := range plans[1:] {
			merged.MergeFrom(extra)
		}
		result[workerID] = merged
	}
	return result, nil
}

// placeOperator inserts op into byWorker[workerID], fusing together any
// existing sub-plans on that worker that already contain one of op's
// upstream operators.
func (p *Planner) placeOperator(sharedQueryID uint64, op *operator.Operator, workerID uint64, byWorker map[uint64][]*execplan.SubPlan) error {
	existing := byWorker[workerID]

	var bridged []*execplan.SubPlan
	var rest []*execplan.SubPlan
	for _, sp := range existing {
		touchesUpstream := false
		for _, childID := range op.Children {
			if sp.Has(childID) {
				touchesUpstream = true
				break
			}
		}
		if touchesUpstream {
			bridged = append(bridged, sp)
		} else {
			rest = append(rest, sp)
		}
	}

	var target *execplan.SubPlan
	switch len(bridged) {
	case 0:
		target = execplan.NewSubPlan(p.subPlanID(op), sharedQueryID, workerID)
	default:
		target = bridged[0]
		for _, extra := range bridged[1:] {
			target.MergeFrom(extra)
		}
	}

	target.AddOperator(op)

	present := 0
	for _, childID := range op.Children {
		if target.Has(childID) {
			present++
		}
	}
	coLocated := present == len(op.Children)
	op.Properties[operator.PropCoLocatedUpstreamOperators] = coLocated
	op.Properties[operator.PropPlacedSubPlanID] = target.ID
	op.Properties[operator.PropPlaced] = true
	op.State = operator.StatePlaced
	// Record the resolved worker even for operators that started out
	// unpinned, so later phases (network operator insertion) can read it
	// back via PinnedWorkerID.
	op.SetPinnedWorkerID(workerID)

	byWorker[workerID] = append(rest, target)
	return nil
}

// subPlanID returns nesid.InvalidSubPlanID when op is already placed
// (it will be fused with an existing placed sub-plan by the caller),
// otherwise a freshly minted id.
func (p *Planner) subPlanID(op *operator.Operator) uint64 {
	if op.State == operator.StatePlaced {
		return nesid.InvalidSubPlanID
	}
	return p.subIDs.Next()
}
