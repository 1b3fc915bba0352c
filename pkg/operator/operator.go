// Package operator models the logical query plan: a DAG of typed operators
// carrying schemas, pin annotations, and the property bag the placement
// planner reads and writes as it walks the plan.
package operator

import (
	"fmt"

	"github.com/cuemby/nebula/pkg/schema"
)

// ID identifies an operator within a Plan.
type ID uint64

// Kind is the tag of the Operator variant.
type Kind string

const (
	KindSource            Kind = "source"
	KindSink              Kind = "sink"
	KindSelection         Kind = "selection" // filter
	KindProjection        Kind = "projection"
	KindMap               Kind = "map"
	KindUnion             Kind = "union"
	KindRename            Kind = "rename"
	KindWindow            Kind = "window"
	KindJoin              Kind = "join"
	KindWatermarkAssigner Kind = "watermark_assigner"
	KindLimit             Kind = "limit"
	KindInferModel        Kind = "infer_model"
	KindNetworkSink       Kind = "network_sink"
	KindNetworkSource     Kind = "network_source"
)

// IsNetwork reports whether the operator is a system-inserted network
// sink or source rather than a user-declared operator.
func (k Kind) IsNetwork() bool {
	return k == KindNetworkSink || k == KindNetworkSource
}

// State is the placement lifecycle state of an operator.
type State string

const (
	StateToBePlaced   State = "to_be_placed"
	StateToBeReplaced State = "to_be_replaced"
	StatePlaced       State = "placed"
)

// PropertyKey enumerates well-known entries of an operator's property bag.
// Placement reads and writes these as it walks the plan; code generation
// never touches them.
type PropertyKey string

const (
	PropPinnedWorkerID                 PropertyKey = "pinned_worker_id"
	PropPlaced                         PropertyKey = "placed"
	PropPlacedSubPlanID                PropertyKey = "placed_sub_plan_id"
	PropConnectedSysSubPlanDetails     PropertyKey = "connected_sys_sub_plan_details"
	PropCoLocatedUpstreamOperators     PropertyKey = "co_located_upstream_operators"
	PropUpstreamNonSystemOperatorID    PropertyKey = "upstream_non_system_operator_id"
	PropDownstreamNonSystemOperatorID  PropertyKey = "downstream_non_system_operator_id"
	// PropNetworkDescriptor holds a *nesnet.NetworkSinkDescriptor or
	// *nesnet.NetworkSourceDescriptor on a KindNetworkSink/KindNetworkSource
	// operator. Stored as `any` to avoid operator importing nesnet.
	PropNetworkDescriptor PropertyKey = "network_descriptor"
)

// WindowKind distinguishes the three window shapes the engine supports.
type WindowKind string

const (
	WindowTumbling  WindowKind = "tumbling"
	WindowSliding   WindowKind = "sliding"
	WindowThreshold WindowKind = "threshold"
)

// TimeCharacteristic selects the clock a window or watermark assigner uses.
type TimeCharacteristic string

const (
	TimeEventTime      TimeCharacteristic = "event_time"
	TimeIngestionTime  TimeCharacteristic = "ingestion_time"
)

// WindowDescriptor parameterizes a window operator.
type WindowDescriptor struct {
	Kind      WindowKind
	Size      int64 // window length, in the unit implied by TimeChar
	Slide     int64 // slide length for WindowSliding; ignored otherwise
	Threshold int64 // trigger threshold for WindowThreshold; ignored otherwise
	TimeChar  TimeCharacteristic
	Keyed     bool
	KeyField  string // valid iff Keyed
}

// JoinKind distinguishes how a Join operator correlates its two inputs.
type JoinKind string

const (
	JoinInner     JoinKind = "inner"
	JoinCartesian JoinKind = "cartesian"
)

// JoinDescriptor parameterizes a join operator.
type JoinDescriptor struct {
	Kind       JoinKind
	LeftField  string // equality key on the left input, valid iff JoinInner
	RightField string // equality key on the right input, valid iff JoinInner
	Window     WindowDescriptor
}

// WatermarkStrategy parameterizes a watermark-assigner operator.
type WatermarkStrategy struct {
	TimestampField string
	Lateness       int64 // allowed out-of-orderness, in the time unit of TimestampField
	TimeChar       TimeCharacteristic
}

// Operator is a tagged-variant node of the logical plan. The Kind each
// kind-specific field belongs to is noted beside the field; fields
// irrelevant to the current Kind are left zero-valued.
type Operator struct {
	ID   ID
	Kind Kind

	InputSchema  schema.Schema
	OutputSchema schema.Schema

	// LeftInputSchema/RightInputSchema are populated instead of InputSchema
	// for binary operators (KindJoin, KindUnion); LeftOriginIDs/RightOriginIDs
	// record which upstream operator ids feed each side.
	LeftInputSchema  schema.Schema
	RightInputSchema schema.Schema
	LeftOriginIDs    []ID
	RightOriginIDs   []ID

	// Kind-specific parameters.
	Window    WindowDescriptor  // KindWindow
	Join      JoinDescriptor    // KindJoin
	Watermark WatermarkStrategy // KindWatermarkAssigner
	Predicate string            // KindSelection: expression text evaluated by the generated code
	Expression string           // KindMap: expression text producing the mapped field
	LimitCount int64            // KindLimit
	RenameTo   string           // KindRename: new field name
	ModelURI   string           // KindInferModel: reference to an inference model artifact

	Properties map[PropertyKey]any
	State      State

	// Children are upstream operators (data flows child → parent).
	// Parents are downstream operators. Both are resolved against the
	// owning Plan.
	Children []ID
	Parents  []ID
}

// NewOperator builds an Operator in state StateToBePlaced with an empty
// property bag.
func NewOperator(id ID, kind Kind) *Operator {
	return &Operator{
		ID:         id,
		Kind:       kind,
		Properties: make(map[PropertyKey]any),
		State:      StateToBePlaced,
	}
}

// IsLeaf reports whether the operator has no upstream operators.
func (o *Operator) IsLeaf() bool {
	return len(o.Children) == 0
}

// IsRoot reports whether the operator has no downstream operators.
func (o *Operator) IsRoot() bool {
	return len(o.Parents) == 0
}

// PinnedWorkerID returns the worker id pinned on this operator and whether
// a pin is present.
func (o *Operator) PinnedWorkerID() (uint64, bool) {
	v, ok := o.Properties[PropPinnedWorkerID]
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// SetPinnedWorkerID pins the operator to the given worker.
func (o *Operator) SetPinnedWorkerID(workerID uint64) {
	o.Properties[PropPinnedWorkerID] = workerID
}

// CoLocatedUpstream reports the CO_LOCATED_UPSTREAM_OPERATORS flag set by
// the placement planner during sub-plan computation.
func (o *Operator) CoLocatedUpstream() bool {
	v, _ := o.Properties[PropCoLocatedUpstreamOperators].(bool)
	return v
}

func (o *Operator) String() string {
	return fmt.Sprintf("Operator(id=%d, kind=%s, state=%s)", o.ID, o.Kind, o.State)
}
