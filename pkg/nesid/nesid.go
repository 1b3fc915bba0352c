// Package nesid generates the monotonic numeric identifiers the engine
// hands out for operators, query sub-plans, and network descriptors, plus
// the string identifiers used at the gRPC/storage boundary.
package nesid

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// InvalidSubPlanID is assigned to a query sub-plan when the operator it
// would have contained was already in state Placed — the placement
// planner fuses it with an existing placed sub-plan instead of minting a
// new id.
const InvalidSubPlanID uint64 = 0

// Sequence is a monotonically increasing uint64 generator, safe for
// concurrent use. The zero value is not ready for use; call NewSequence.
type Sequence struct {
	counter uint64
}

// NewSequence creates a Sequence starting from the given floor: the next
// call to Next returns floor+1.
func NewSequence(floor uint64) *Sequence {
	return &Sequence{counter: floor}
}

// Next returns the next id in the sequence.
func (s *Sequence) Next() uint64 {
	return atomic.AddUint64(&s.counter, 1)
}

// OperatorIDs mints operator.ID values.
type OperatorIDs struct{ seq *Sequence }

// NewOperatorIDs creates an operator id generator.
func NewOperatorIDs() *OperatorIDs { return &OperatorIDs{seq: NewSequence(0)} }

// Next returns the next operator id.
func (o *OperatorIDs) Next() uint64 { return o.seq.Next() }

// SubPlanIDs mints query sub-plan ids.
type SubPlanIDs struct{ seq *Sequence }

// NewSubPlanIDs creates a sub-plan id generator.
func NewSubPlanIDs() *SubPlanIDs { return &SubPlanIDs{seq: NewSequence(0)} }

// Next returns the next query sub-plan id.
func (s *SubPlanIDs) Next() uint64 { return s.seq.Next() }

// NewDescriptorUniqueID returns a fresh opaque unique id for a network
// sink/source descriptor, stable across version bumps of that descriptor.
func NewDescriptorUniqueID() string {
	return uuid.NewString()
}
