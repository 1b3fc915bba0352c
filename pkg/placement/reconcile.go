package placement

import (
	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/operator"
)

// reconcileSubPlan fuses sp's network sink/source operators against any
// counterpart already committed on workerID for sharedQueryID: when the
// upstream/downstream non-system operator a network sink or source
// serves was already PLACED, locate its existing sub-plan and try to
// fuse the new descriptor into it in place (preserving uniqueId,
// bumping version) instead of registering a second, duplicate entry for
// the same logical edge. sp itself adopts the replaced sub-plan's id
// and continues its version sequence when sp was left
// INVALID_QUERY_SUB_PLAN_ID by computeSubPlans.
func (p *Planner) reconcileSubPlan(sharedQueryID, workerID uint64, sp *execplan.SubPlan) {
	node := p.plan.ExecutionNode(workerID)

	var replacedID, nextVersion uint64
	var replaced bool

	for _, op := range snapshotOperators(sp) {
		existingSP, existingOp, ok := p.findPlacedCounterpart(node, sharedQueryID, op)
		if !ok || existingSP.ID == sp.ID {
			continue
		}

		var merged bool
		switch op.Kind {
		case operator.KindNetworkSink:
			merged = tryMergingSink(existingOp, op)
		case operator.KindNetworkSource:
			merged = tryMergingSource(existingOp, op)
		}
		if !merged {
			continue
		}

		adoptMergedNetworkOperator(sp, op, existingOp)
		existingSP.Bump()
		node.RemoveSubPlan(sharedQueryID, existingSP.ID)
		replacedID, replaced = existingSP.ID, true
		if existingSP.Version > nextVersion {
			nextVersion = existingSP.Version
		}

		p.logger.Info().
			Uint64("shared_query_id", sharedQueryID).
			Uint64("worker_id", workerID).
			Uint64("replaced_sub_plan_id", existingSP.ID).
			Uint64("version", existingSP.Version).
			Msg("network operator merged under replacement")
	}

	if replaced {
		sp.Version = nextVersion
		if sp.IsInvalid() {
			sp.ID = replacedID
		}
		return
	}

	// computeSubPlans leaves a sub-plan invalid whenever its first
	// operator was already PLACED, expecting it to be fused with a
	// prior sub-plan here. No network counterpart matched above, so this
	// is a placement with no history worth merging into (e.g. every
	// operator it contains stayed fully co-located) — it still needs a
	// real id of its own rather than colliding with every other
	// unmerged sub-plan at InvalidSubPlanID.
	if sp.IsInvalid() {
		sp.ID = p.subIDs.Next()
	}
}

// findPlacedCounterpart looks for an existing sub-plan on node already
// serving the non-system operator op's network descriptor names,
// returning ok=false when op is not a network sink/source or no such
// sub-plan exists yet.
func (p *Planner) findPlacedCounterpart(node *execplan.ExecutionNode, sharedQueryID uint64, op *operator.Operator) (*execplan.SubPlan, *operator.Operator, bool) {
	var key operator.PropertyKey
	switch op.Kind {
	case operator.KindNetworkSink:
		key = operator.PropUpstreamNonSystemOperatorID
	case operator.KindNetworkSource:
		key = operator.PropDownstreamNonSystemOperatorID
	default:
		return nil, nil, false
	}

	nonSystemID, ok := op.Properties[key].(uint64)
	if !ok {
		return nil, nil, false
	}

	existingSP := node.FindByOperator(sharedQueryID, nonSystemID)
	if existingSP == nil {
		return nil, nil, false
	}
	existingOp := findNetworkCounterpart(snapshotOperators(existingSP), op.Kind, key, nonSystemID)
	if existingOp == nil {
		return nil, nil, false
	}
	return existingSP, existingOp, true
}

// adoptMergedNetworkOperator replaces newOp within sp with existingOp —
// whose descriptor tryMergingSource/tryMergingSink just rewrote in
// place — carrying over newOp's freshly computed linkage (children,
// parents, root membership) so the redeployed edge keeps its peer-known
// wire identity instead of requiring both sides to re-handshake.
func adoptMergedNetworkOperator(sp *execplan.SubPlan, newOp, existingOp *operator.Operator) {
	existingOp.Children = newOp.Children
	existingOp.Parents = newOp.Parents

	delete(sp.Operators, newOp.ID)
	sp.Operators[existingOp.ID] = existingOp

	for _, neighborID := range append(append([]operator.ID{}, newOp.Children...), newOp.Parents...) {
		neighbor, ok := sp.Operators[neighborID]
		if !ok || neighbor == existingOp {
			continue
		}
		replaceOperatorID(neighbor.Children, newOp.ID, existingOp.ID)
		replaceOperatorID(neighbor.Parents, newOp.ID, existingOp.ID)
	}

	sp.ReplaceRoot(newOp.ID, existingOp.ID)
}

func replaceOperatorID(ids []operator.ID, old, repl operator.ID) {
	for i, id := range ids {
		if id == old {
			ids[i] = repl
		}
	}
}

// snapshotOperators returns sp's current operators as a slice, safe to
// range over while the caller mutates sp.Operators.
func snapshotOperators(sp *execplan.SubPlan) []*operator.Operator {
	out := make([]*operator.Operator, 0, len(sp.Operators))
	for _, op := range sp.Operators {
		out = append(out, op)
	}
	return out
}
