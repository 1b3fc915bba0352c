package operator

import (
	"fmt"

	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/hashicorp/go-multierror"
)

// Plan is a DAG of operators. Operators reference each other by ID rather
// than by pointer so that sub-plans can be computed as id sets without
// cloning the graph.
type Plan struct {
	SharedQueryID uint64
	operators     map[ID]*Operator
}

// NewPlan creates an empty plan for the given shared query id.
func NewPlan(sharedQueryID uint64) *Plan {
	return &Plan{
		SharedQueryID: sharedQueryID,
		operators:     make(map[ID]*Operator),
	}
}

// AddOperator inserts an operator into the plan. It does not wire up
// Children/Parents; callers connect operators via Connect.
func (p *Plan) AddOperator(op *Operator) {
	p.operators[op.ID] = op
}

// Get returns the operator with the given id, or nil if absent.
func (p *Plan) Get(id ID) *Operator {
	return p.operators[id]
}

// Operators returns every operator in the plan, in no particular order.
func (p *Plan) Operators() []*Operator {
	out := make([]*Operator, 0, len(p.operators))
	for _, op := range p.operators {
		out = append(out, op)
	}
	return out
}

// Connect wires a downstream-of relationship: data flows from child to
// parent. Both operators must already be present in the plan.
func (p *Plan) Connect(child, parent ID) error {
	c, ok := p.operators[child]
	if !ok {
		return fmt.Errorf("operator %d: %w", child, neserr.ErrUnknownOperator)
	}
	pa, ok := p.operators[parent]
	if !ok {
		return fmt.Errorf("operator %d: %w", parent, neserr.ErrUnknownOperator)
	}
	c.Parents = appendUnique(c.Parents, parent)
	pa.Children = appendUnique(pa.Children, child)
	return nil
}

func appendUnique(ids []ID, id ID) []ID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// Roots returns the operators with no downstream parent — the sinks.
func (p *Plan) Roots() []*Operator {
	var out []*Operator
	for _, op := range p.operators {
		if op.IsRoot() {
			out = append(out, op)
		}
	}
	return out
}

// Leaves returns the operators with no upstream child — the sources.
func (p *Plan) Leaves() []*Operator {
	var out []*Operator
	for _, op := range p.operators {
		if op.IsLeaf() {
			out = append(out, op)
		}
	}
	return out
}

// InferTypes walks the plan in topological (children-before-parents) order
// and propagates schemas downstream: each operator's OutputSchema is
// derived from its InputSchema (or Left/RightInputSchema for binary
// operators) according to its Kind, and the result is pushed to every
// parent's InputSchema. It is idempotent and safe to re-run after
// placement amends the plan.
func (p *Plan) InferTypes() error {
	order, err := p.topologicalOrder()
	if err != nil {
		return err
	}

	var errs *multierror.Error
	for _, op := range order {
		if err := p.inferOne(op); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("operator %d: %w", op.ID, err))
			continue
		}
		for _, parentID := range op.Parents {
			parent := p.operators[parentID]
			if parent == nil {
				continue
			}
			propagateSchema(op, parent)
		}
	}
	return errs.ErrorOrNil()
}

// propagateSchema hands op's output schema to parent's appropriate input
// slot, distinguishing left/right for binary consumers by origin id set.
// Before any left origin is recorded, the parent's first-connected child
// feeds the left side.
func propagateSchema(op *Operator, parent *Operator) {
	switch parent.Kind {
	case KindJoin, KindUnion:
		firstChild := len(parent.Children) > 0 && parent.Children[0] == op.ID
		if containsID(parent.LeftOriginIDs, op.ID) || len(parent.LeftOriginIDs) == 0 && parent.LeftInputSchema.Fields == nil && firstChild {
			parent.LeftInputSchema = op.OutputSchema
			parent.LeftOriginIDs = appendUnique(parent.LeftOriginIDs, op.ID)
		} else {
			parent.RightInputSchema = op.OutputSchema
			parent.RightOriginIDs = appendUnique(parent.RightOriginIDs, op.ID)
		}
	default:
		parent.InputSchema = op.OutputSchema
	}
}

func containsID(ids []ID, id ID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// inferOne computes an operator's OutputSchema from its current input(s).
// Sources originate a schema and are left untouched here.
func (p *Plan) inferOne(op *Operator) error {
	switch op.Kind {
	case KindSource, KindNetworkSource:
		// schema originates at the source; nothing to derive.
		return nil
	case KindSink, KindNetworkSink, KindSelection, KindLimit, KindWatermarkAssigner, KindInferModel:
		op.OutputSchema = op.InputSchema
	case KindProjection:
		op.OutputSchema = op.InputSchema
	case KindMap:
		op.OutputSchema = op.InputSchema
	case KindRename:
		op.OutputSchema = op.InputSchema
	case KindUnion:
		op.OutputSchema = op.LeftInputSchema
	case KindJoin:
		op.OutputSchema = op.LeftInputSchema.Concat(op.RightInputSchema)
	case KindWindow:
		op.OutputSchema = op.InputSchema
	default:
		return fmt.Errorf("unhandled operator kind %q", op.Kind)
	}
	return nil
}

// topologicalOrder returns operators ordered so that every child precedes
// its parents (Kahn's algorithm over the Children/Parents adjacency).
func (p *Plan) topologicalOrder() ([]*Operator, error) {
	indegree := make(map[ID]int, len(p.operators))
	for id, op := range p.operators {
		indegree[id] = len(op.Children)
	}

	var queue []ID
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]*Operator, 0, len(p.operators))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		op := p.operators[id]
		order = append(order, op)
		for _, parentID := range op.Parents {
			indegree[parentID]--
			if indegree[parentID] == 0 {
				queue = append(queue, parentID)
			}
		}
	}

	if len(order) != len(p.operators) {
		return nil, fmt.Errorf("plan %d: cycle detected among operators", p.SharedQueryID)
	}
	return order, nil
}
