package topology

import (
	"fmt"

	"github.com/cuemby/nebula/pkg/neserr"
)

// NodeLock is an exclusive write-lock on a single topology node, acquired
// via Graph.LockNode. Releasing it (Unlock) transfers ownership back to
// the topology so a subsequent LockNode call can succeed.
type NodeLock struct {
	graph *Graph
	id    uint64
}

// LockNode attempts to acquire the write-lock for the given node,
// non-blocking. It returns (nil, nil) if the node is already locked by
// someone else, and an error only if the node id is unknown.
func (t *Graph) LockNode(id uint64) (*NodeLock, error) {
	t.mu.RLock()
	_, ok := t.nodes[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("topology: node %d: %w", id, neserr.ErrUnknownNode)
	}

	t.lockMu.Lock()
	mu := t.locks[id]
	t.lockMu.Unlock()

	if !mu.TryLock() {
		return nil, nil
	}
	return &NodeLock{graph: t, id: id}, nil
}

// Unlock releases the node's write-lock.
func (l *NodeLock) Unlock() {
	l.graph.lockMu.Lock()
	mu := l.graph.locks[l.id]
	l.graph.lockMu.Unlock()
	mu.Unlock()
}

// NodeID returns the id of the locked node.
func (l *NodeLock) NodeID() uint64 {
	return l.id
}
