package execplan

import (
	"testing"

	"github.com/cuemby/nebula/pkg/operator"
	"github.com/stretchr/testify/assert"
)

func TestSubPlan_AddOperator_TracksRoots(t *testing.T) {
	sp := NewSubPlan(1, 100, 1)

	src := operator.NewOperator(1, operator.KindSource)
	sp.AddOperator(src)
	assert.Equal(t, []operator.ID{1}, sp.Roots)

	sel := operator.NewOperator(2, operator.KindSelection)
	sel.Parents = []operator.ID{1}
	sp.AddOperator(sel)

	assert.Equal(t, []operator.ID{1}, sp.Roots, "operator with a parent already in the sub-plan is not a root")
	assert.True(t, sp.Has(2))
}

func TestSubPlan_Leaves(t *testing.T) {
	sp := NewSubPlan(1, 100, 1)
	src := operator.NewOperator(1, operator.KindSource)
	sel := operator.NewOperator(2, operator.KindSelection)
	sel.Parents = []operator.ID{1}
	src.Children = []operator.ID{2}
	sp.AddOperator(src)
	sp.AddOperator(sel)

	leaves := sp.Leaves()
	assert.Len(t, leaves, 1)
	assert.Equal(t, operator.ID(2), leaves[0].ID)
}

func TestSubPlan_MergeFrom(t *testing.T) {
	a := NewSubPlan(1, 100, 1)
	op1 := operator.NewOperator(1, operator.KindSource)
	a.AddOperator(op1)

	b := NewSubPlan(2, 100, 1)
	op2 := operator.NewOperator(2, operator.KindSink)
	b.AddOperator(op2)

	a.MergeFrom(b)
	assert.True(t, a.Has(1))
	assert.True(t, a.Has(2))
	assert.ElementsMatch(t, []operator.ID{1, 2}, a.Roots)
}

func TestSubPlan_IsInvalid(t *testing.T) {
	assert.True(t, NewSubPlan(0, 1, 1).IsInvalid())
	assert.False(t, NewSubPlan(5, 1, 1).IsInvalid())
}

func TestSubPlan_Bump(t *testing.T) {
	sp := NewSubPlan(1, 1, 1)
	assert.Equal(t, uint64(0), sp.Version)
	sp.Bump()
	assert.Equal(t, uint64(1), sp.Version)
}
