// Package topology models the graph of worker nodes the placement planner
// places operators onto: capacities, reliability, and the directed
// parent/child edges between nodes, plus path-finding built on top of
// lvlath's graph primitives.
package topology

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/katalvlaran/lvlath/core"
)

// PropertyKey enumerates well-known entries of a Node's property bag.
type PropertyKey string

const (
	PropIsBuffering PropertyKey = "is_buffering"
	PropEpoch       PropertyKey = "epoch"
)

// Resources tracks the mutable capacity of a Node. Available* fields are
// monotonically decreased by successful occupations and released back by
// the caller that reserved them.
type Resources struct {
	AvailableMemory  int64
	InitialMemory    int64
	AvailableNetwork int64
	InitialNetwork   int64
}

// Node is a worker in the topology: an addressable host with a slot
// budget, resource capacities, a reliability score in [0,1], and an
// arbitrary property bag.
type Node struct {
	ID          uint64
	Address     string // host:port
	Slots       int
	Resources   Resources
	Reliability float64
	Epoch       int64
	Properties  map[PropertyKey]any
}

func vertexID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// Graph is the topology DAG: worker nodes plus directed parent→child
// (downstream→upstream is reversed; edges point upstream→downstream,
// i.e. data-flow direction) edges. It owns the Node registry and mirrors
// connectivity into an lvlath/core.Graph for path queries, and keeps one
// mutex per node for the placement planner's lock discipline.
type Graph struct {
	mu    sync.RWMutex
	nodes map[uint64]*Node
	g     *core.Graph

	lockMu sync.Mutex
	locks  map[uint64]*sync.Mutex
}

// NewGraph creates an empty, directed topology graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[uint64]*Node),
		g:     core.NewGraph(core.WithDirected(true), core.WithWeighted()),
		locks: make(map[uint64]*sync.Mutex),
	}
}

// AddNode registers a worker node. Returns an error if the id is already
// present.
func (t *Graph) AddNode(n *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[n.ID]; exists {
		return fmt.Errorf("topology: node %d: %w", n.ID, neserr.ErrDuplicateNode)
	}
	if n.Properties == nil {
		n.Properties = make(map[PropertyKey]any)
	}
	if err := t.g.AddVertex(vertexID(n.ID)); err != nil {
		return fmt.Errorf("topology: node %d: %w", n.ID, err)
	}
	t.nodes[n.ID] = n

	t.lockMu.Lock()
	t.locks[n.ID] = &sync.Mutex{}
	t.lockMu.Unlock()

	return nil
}

// Connect adds a directed edge from upstream to downstream (data flows
// upstream → downstream; downstream is the parent in topology terms).
// weight is the edge cost used by weighted path queries (typically 1 for
// a plain hop-count graph).
func (t *Graph) Connect(upstream, downstream uint64, weight int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[upstream]; !ok {
		return fmt.Errorf("topology: node %d: %w", upstream, neserr.ErrUnknownNode)
	}
	if _, ok := t.nodes[downstream]; !ok {
		return fmt.Errorf("topology: node %d: %w", downstream, neserr.ErrUnknownNode)
	}
	if _, err := t.g.AddEdge(vertexID(upstream), vertexID(downstream), weight); err != nil {
		return fmt.Errorf("topology: connect %d->%d: %w", upstream, downstream, err)
	}
	return nil
}

// Node returns the node with the given id, or an error if unknown.
func (t *Graph) Node(id uint64) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	return n, nil
}

// Nodes returns every registered node, in no particular order.
func (t *Graph) Nodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// OccupySlots atomically decrements a node's available slots. The node
// should normally be held under LockNode first; OccupySlots itself only
// guards the node registry, not cross-call atomicity.
func (t *Graph) OccupySlots(id uint64, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	if node.Slots < n {
		return fmt.Errorf("topology: node %d wants %d slots, has %d: %w", id, n, node.Slots, neserr.ErrResourceExhausted)
	}
	node.Slots -= n
	return nil
}

// ReleaseSlots returns previously occupied slots to a node, e.g. on
// placement rollback.
func (t *Graph) ReleaseSlots(id uint64, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	node.Slots += n
	return nil
}

// ReduceMemory decrements a node's available memory by x, used by the
// fault-tolerance placement variant when it assigns buffering
// responsibility to a node.
func (t *Graph) ReduceMemory(id uint64, x int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	node.Resources.AvailableMemory -= x
	return nil
}

// ReduceNetwork decrements a node's available network capacity by x.
func (t *Graph) ReduceNetwork(id uint64, x int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	node.Resources.AvailableNetwork -= x
	return nil
}

// SetEpoch sets a node's epoch scalar and mirrors it into the property
// bag, as read by the fault-tolerance planner.
func (t *Graph) SetEpoch(id uint64, epoch int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	node.Epoch = epoch
	node.Properties[PropEpoch] = epoch
	return nil
}

// MarkBuffering flags a node as a fault-tolerance buffering point.
func (t *Graph) MarkBuffering(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	node.Properties[PropIsBuffering] = true
	return nil
}

// ClearBuffering unflags a node as a fault-tolerance buffering point,
// undoing a prior MarkBuffering call on fault-tolerance placement
// rollback.
func (t *Graph) ClearBuffering(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	node.Properties[PropIsBuffering] = false
	return nil
}

// SetReliability updates a node's reliability score, read by the
// fault-tolerance planner's buffering-node scoring. A reconciliation
// loop drives this down to 0 for a node that has missed its heartbeat
// deadline, so future amendments route around it.
func (t *Graph) SetReliability(id uint64, reliability float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}
	node.Reliability = reliability
	return nil
}
