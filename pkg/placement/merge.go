package placement

import (
	"github.com/cuemby/nebula/pkg/nesnet"
	"github.com/cuemby/nebula/pkg/operator"
)

// tryMergingSource fuses candidate into existing when both are network
// sources serving the same upstream non-system operator: existing's
// descriptor is rewritten to candidate's new location and origin count,
// its uniqueId is preserved, and its version is bumped. Returns false
// (no mutation) when the two do not correspond to the same logical
// edge.
func tryMergingSource(existing, candidate *operator.Operator) bool {
	if existing.Kind != operator.KindNetworkSource || candidate.Kind != operator.KindNetworkSource {
		return false
	}
	existingUp, _ := existing.Properties[operator.PropUpstreamNonSystemOperatorID].(uint64)
	candidateUp, _ := candidate.Properties[operator.PropUpstreamNonSystemOperatorID].(uint64)
	if existingUp != candidateUp {
		return false
	}

	existingDesc, ok1 := existing.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSourceDescriptor)
	candidateDesc, ok2 := candidate.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSourceDescriptor)
	if !ok1 || !ok2 {
		return false
	}

	existingDesc.Location = candidateDesc.Location
	existingDesc.Partition = candidateDesc.Partition
	existingDesc.NumberOfOrigins = candidateDesc.NumberOfOrigins
	existingDesc.Retry = candidateDesc.Retry
	existingDesc.Version++
	existing.State = operator.StateToBeReplaced
	return true
}

// tryMergingSink fuses candidate into existing when both are network
// sinks serving the same downstream non-system operator, symmetrically
// to tryMergingSource.
func tryMergingSink(existing, candidate *operator.Operator) bool {
	if existing.Kind != operator.KindNetworkSink || candidate.Kind != operator.KindNetworkSink {
		return false
	}
	existingDown, _ := existing.Properties[operator.PropDownstreamNonSystemOperatorID].(uint64)
	candidateDown, _ := candidate.Properties[operator.PropDownstreamNonSystemOperatorID].(uint64)
	if existingDown != candidateDown {
		return false
	}

	existingDesc, ok1 := existing.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSinkDescriptor)
	candidateDesc, ok2 := candidate.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSinkDescriptor)
	if !ok1 || !ok2 {
		return false
	}

	existingDesc.Location = candidateDesc.Location
	existingDesc.Partition = candidateDesc.Partition
	existingDesc.Retry = candidateDesc.Retry
	existingDesc.Version++
	existing.State = operator.StateToBeReplaced
	return true
}

// findNetworkCounterpart searches plans for a network operator of the
// given kind already serving nonSystemOperatorID, returning nil if none
// exists. Used by a redeployment amendment before falling back to
// inserting a brand-new network operator.
func findNetworkCounterpart(plans []*operator.Operator, kind operator.Kind, key operator.PropertyKey, nonSystemOperatorID uint64) *operator.Operator {
	for _, op := range plans {
		if op.Kind != kind {
			continue
		}
		if id, ok := op.Properties[key].(uint64); ok && id == nonSystemOperatorID {
			return op
		}
	}
	return nil
}
