// Package nesnet defines the wire contract between cooperating sub-plans
// placed on different topology nodes: node addresses, partition keys,
// retry policy, and the buffer header framing each payload, plus a gRPC
// transport for the handshake and an in-memory loopback for tests.
package nesnet

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// NodeLocation addresses a topology node for network operator wiring.
type NodeLocation struct {
	NodeID  uint64
	Address string // host
	Port    int
}

func (n NodeLocation) String() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}

// Partition is the (queryId, operatorId, partitionId, subpartitionId) key
// that pairs a network sink with its matching network source. Placement
// always mints sinks/sources with PartitionID=0, SubpartitionID=0 per the
// single-partition topology this engine targets.
type Partition struct {
	QueryID        uint64
	OperatorID     uint64
	PartitionID    uint32
	SubpartitionID uint32
}

// NewPartition builds the canonical zero-partition key for an operator.
func NewPartition(queryID, operatorID uint64) Partition {
	return Partition{QueryID: queryID, OperatorID: operatorID}
}

// RetryPolicy is the (wait, retries) pair sent once at connect time so the
// receiving side knows how long a sender will keep retrying a failed
// handshake.
type RetryPolicy struct {
	Wait    time.Duration
	Retries int
}

// NetworkSinkDescriptor is installed as the new root of a sub-plan whose
// downstream consumer lives on a different worker.
type NetworkSinkDescriptor struct {
	UniqueID   string
	Version    uint64
	Location   NodeLocation
	Partition  Partition
	Retry      RetryPolicy
	// UpstreamNonSystemOperatorID is the id of the user operator this
	// sink was inserted to serve. Merging matches on the operator's
	// non-system-operator id properties, not on this field.
	UpstreamNonSystemOperatorID uint64
}

// NetworkSourceDescriptor is installed as a new child of a leaf operator
// whose upstream producer lives on a different worker.
type NetworkSourceDescriptor struct {
	UniqueID        string
	Version         uint64
	Location        NodeLocation
	Partition       Partition
	Retry           RetryPolicy
	NumberOfOrigins int
	// DownstreamNonSystemOperatorID is the id of the user operator this
	// source was inserted to feed. Merging matches on the operator's
	// non-system-operator id properties, not on this field.
	DownstreamNonSystemOperatorID uint64
}

// BufferHeader frames a single tuple buffer on the wire, preceding its raw
// tuple bytes.
type BufferHeader struct {
	NumTuples       uint64
	BufferSizeBytes uint64
	OriginID        uint64
	SequenceNumber  uint64
	Watermark       *timestamppb.Timestamp
}

// NewBufferHeader builds a header stamped with the given watermark time.
func NewBufferHeader(originID, sequenceNumber, numTuples, bufferSizeBytes uint64, watermark time.Time) BufferHeader {
	return BufferHeader{
		NumTuples:       numTuples,
		BufferSizeBytes: bufferSizeBytes,
		OriginID:        originID,
		SequenceNumber:  sequenceNumber,
		Watermark:       timestamppb.New(watermark),
	}
}
