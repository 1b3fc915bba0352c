package nesid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence_Next_Monotonic(t *testing.T) {
	seq := NewSequence(0)
	assert.Equal(t, uint64(1), seq.Next())
	assert.Equal(t, uint64(2), seq.Next())
	assert.Equal(t, uint64(3), seq.Next())
}

func TestOperatorIDs_AndSubPlanIDs_Independent(t *testing.T) {
	ops := NewOperatorIDs()
	subs := NewSubPlanIDs()

	assert.Equal(t, uint64(1), ops.Next())
	assert.Equal(t, uint64(1), subs.Next())
	assert.Equal(t, uint64(2), ops.Next())
}

func TestNewDescriptorUniqueID_Unique(t *testing.T) {
	a := NewDescriptorUniqueID()
	b := NewDescriptorUniqueID()
	assert.NotEqual(t, a, b)
}
