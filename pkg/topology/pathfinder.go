package topology

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dijkstra"
)

// slotWeightScale dominates the per-hop contribution of a dijkstra edge
// weight so that path cost is lexicographically (hop count, -sum of slots
// of the nodes entered): any extra hop costs more than any achievable
// slot-availability gain.
const slotWeightScale = 1 << 20

// PathFinder answers the connectivity questions the placement planner
// asks of a topology snapshot: single paths between worker sets, and the
// ordered node sequence between two specific workers used to splice in
// network operators.
type PathFinder struct {
	graph *Graph
}

// NewPathFinder wraps a topology graph for path queries.
func NewPathFinder(g *Graph) *PathFinder {
	return &PathFinder{graph: g}
}

// FindPathBetween returns a BFS-ordered sequence of node ids covering
// every (upstream, downstream) pair with at least one path between them,
// starting the search from the lowest-id upstream node for determinism.
// It returns neserr.ErrPathUnavailable if any pair is unreachable.
func (pf *PathFinder) FindPathBetween(upstream, downstream []uint64) ([]uint64, error) {
	if len(upstream) == 0 || len(downstream) == 0 {
		return nil, fmt.Errorf("topology: empty endpoint set: %w", neserr.ErrPathUnavailable)
	}

	sortedUpstream := append([]uint64(nil), upstream...)
	sort.Slice(sortedUpstream, func(i, j int) bool { return sortedUpstream[i] < sortedUpstream[j] })

	seen := make(map[uint64]struct{})
	var order []uint64

	for _, u := range sortedUpstream {
		result, err := bfs.BFS(pf.graph.g, vertexID(u))
		if err != nil {
			return nil, fmt.Errorf("topology: bfs from %d: %w", u, neserr.ErrPathUnavailable)
		}
		for _, d := range downstream {
			path, err := result.PathTo(vertexID(d))
			if err != nil {
				return nil, fmt.Errorf("topology: no path %d->%d: %w", u, d, neserr.ErrPathUnavailable)
			}
			for _, v := range path {
				id, convErr := strconv.ParseUint(v, 10, 64)
				if convErr != nil {
					continue
				}
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					order = append(order, id)
				}
			}
		}
	}
	return order, nil
}

// FindNodesBetween returns the ordered node-id sequence of the
// highest-scoring single path between two specific workers: shortest hop
// count first, then the path maximizing the sum of available slots of
// the nodes it enters; the minimum slots along a path are not compared.
// Used when splicing network sink/source pairs between two
// sub-plans placed on different workers.
func (pf *PathFinder) FindNodesBetween(upstream, downstream uint64) ([]uint64, error) {
	weighted := pf.slotWeightedView()

	dist, prev, err := dijkstra.Dijkstra(weighted,
		dijkstra.Source(vertexID(upstream)),
		dijkstra.WithReturnPath(),
	)
	if err != nil {
		return nil, fmt.Errorf("topology: dijkstra from %d: %w", upstream, neserr.ErrPathUnavailable)
	}
	if _, ok := dist[vertexID(downstream)]; !ok {
		return nil, fmt.Errorf("topology: no path %d->%d: %w", upstream, downstream, neserr.ErrPathUnavailable)
	}

	var path []string
	for cur := vertexID(downstream); ; {
		path = append(path, cur)
		p, ok := prev[cur]
		if !ok {
			break
		}
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	out := make([]uint64, 0, len(path))
	for _, v := range path {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// PathDAG enumerates every distinct path between an upstream and a
// downstream node set as a multi-parent reachability structure: Parents
// maps a node id to every predecessor that lies on at least one path from
// an upstream root to it.
type PathDAG struct {
	Roots   []uint64
	Parents map[uint64][]uint64
}

// FindAllPathsBetween builds the DAG of every distinct simple path from
// any node in upstream to any node in downstream, by a forward
// reachability walk from upstream followed by a backward prune from
// downstream.
func (pf *PathFinder) FindAllPathsBetween(upstream, downstream []uint64) (*PathDAG, error) {
	pf.graph.mu.RLock()
	defer pf.graph.mu.RUnlock()

	forward := make(map[uint64][]uint64) // node -> parents reachable forward from upstream
	visited := make(map[uint64]bool)
	queue := append([]uint64(nil), upstream...)
	for _, u := range queue {
		visited[u] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		neighbors, err := pf.graph.g.Neighbors(vertexID(cur))
		if err != nil {
			continue
		}
		for _, edge := range neighbors {
			if edge.From != vertexID(cur) {
				continue
			}
			toID, err := strconv.ParseUint(edge.To, 10, 64)
			if err != nil {
				continue
			}
			forward[toID] = append(forward[toID], cur)
			if !visited[toID] {
				visited[toID] = true
				queue = append(queue, toID)
			}
		}
	}

	downstreamSet := make(map[uint64]bool, len(downstream))
	for _, d := range downstream {
		downstreamSet[d] = true
		if !visited[d] {
			return nil, fmt.Errorf("topology: node %d unreachable: %w", d, neserr.ErrPathUnavailable)
		}
	}

	// Backward prune: keep only nodes that lie on some path to a
	// downstream node.
	keep := make(map[uint64]bool)
	var mark func(id uint64)
	mark = func(id uint64) {
		if keep[id] {
			return
		}
		keep[id] = true
		for _, p := range forward[id] {
			mark(p)
		}
	}
	for d := range downstreamSet {
		mark(d)
	}

	parents := make(map[uint64][]uint64)
	for id, ps := range forward {
		if !keep[id] {
			continue
		}
		for _, p := range ps {
			if keep[p] {
				parents[id] = append(parents[id], p)
			}
		}
	}

	return &PathDAG{Roots: upstream, Parents: parents}, nil
}

// slotWeightedView builds a weighted core.Graph mirroring the topology's
// connectivity, where every edge u->v costs slotWeightScale minus v's
// current available slots, biasing Dijkstra toward fewer hops first and
// better-resourced nodes as a tie-break.
func (pf *PathFinder) slotWeightedView() *core.Graph {
	pf.graph.mu.RLock()
	defer pf.graph.mu.RUnlock()

	weighted := core.NewGraph(core.WithDirected(true), core.WithWeighted())
	for id := range pf.graph.nodes {
		_ = weighted.AddVertex(vertexID(id))
	}
	for _, edge := range pf.graph.g.Edges() {
		toID, err := strconv.ParseUint(edge.To, 10, 64)
		if err != nil {
			continue
		}
		node := pf.graph.nodes[toID]
		slots := int64(0)
		if node != nil {
			slots = int64(node.Slots)
		}
		weight := slotWeightScale - slots
		if weight < 1 {
			weight = 1
		}
		_, _ = weighted.AddEdge(edge.From, edge.To, weight)
	}
	return weighted
}
