// Package placement implements the Placement Planner: it selects a
// topology path for each logical-plan segment, computes per-node
// sub-plans, splices in network sink/source pairs across worker
// boundaries, and reconciles a new amendment against an already-placed
// Global Execution Plan.
package placement

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/nebula/pkg/config"
	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/nesid"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/topology"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Planner runs placement amendments against a topology snapshot and a
// Global Execution Plan, under a configured amendment mode and retry
// budget.
type Planner struct {
	topo   *topology.Graph
	finder *topology.PathFinder
	plan   *execplan.GlobalPlan
	subIDs *nesid.SubPlanIDs
	// netOpIDs mints ids for system-inserted network sink/source
	// operators from a floor well above any realistic logical-plan
	// operator id, so the two id spaces never collide without needing a
	// single engine-wide sequence shared across packages.
	netOpIDs *nesid.Sequence
	cfg      config.Config
	logger   zerolog.Logger
}

// NewPlanner builds a Planner over the given topology and global
// execution plan.
func NewPlanner(topo *topology.Graph, plan *execplan.GlobalPlan, cfg config.Config) *Planner {
	return &Planner{
		topo:     topo,
		finder:   topology.NewPathFinder(topo),
		plan:     plan,
		subIDs:   nesid.NewSubPlanIDs(),
		netOpIDs: nesid.NewSequence(1 << 32),
		cfg:      cfg,
		logger:   log.WithComponent("placement"),
	}
}

// nextNetOpID mints the next system operator id for a network sink or
// source.
func (p *Planner) nextNetOpID() operator.ID {
	return operator.ID(p.netOpIDs.Next())
}

// Amendment is a single placement request: the operators pinned to an
// upstream worker set and a downstream worker set within one logical
// plan.
type Amendment struct {
	SharedQueryID        uint64
	Plan                 *operator.Plan
	PinnedUpstream       []*operator.Operator
	PinnedDownstream     []*operator.Operator
}

// Result is everything a successful amendment produced: the sub-plans
// now registered on the global execution plan, keyed by worker id.
type Result struct {
	SubPlansByWorker map[uint64][]*execplan.SubPlan
}

// Amend computes and commits a placement amendment. On any failure it
// rolls back every lock and resource reservation it acquired and leaves
// the Global Execution Plan untouched.
func (p *Planner) Amend(a Amendment) (*Result, error) {
	timer := metrics.NewTimer()
	outcome := "success"
	defer func() {
		metrics.PlacementAmendmentsTotal.WithLabelValues(string(p.cfg.AmendmentMode), outcome).Inc()
		timer.ObserveDurationVec(metrics.PlacementLatency, string(p.cfg.AmendmentMode))
	}()

	upstreamIDs, err := pinnedWorkerIDs(a.PinnedUpstream)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	downstreamIDs, err := pinnedWorkerIDs(a.PinnedDownstream)
	if err != nil {
		outcome = "error"
		return nil, err
	}

	bfsOrder, err := p.finder.FindPathBetween(upstreamIDs, downstreamIDs)
	if err != nil {
		outcome = "error"
		return nil, err
	}

	var locks []*topology.NodeLock
	switch p.cfg.AmendmentMode {
	case config.Pessimistic:
		locks, err = p.acquirePessimistic(bfsOrder)
		if err != nil {
			outcome = "error"
			return nil, err
		}
		defer releaseLocks(locks)
	case config.Optimistic:
		// No locks held across planning; validated individually below.
	default:
		outcome = "error"
		return nil, fmt.Errorf("placement: unknown amendment mode %q", p.cfg.AmendmentMode)
	}

	subPlans, err := p.computeSubPlans(a)
	if err != nil {
		outcome = "error"
		return nil, err
	}

	if p.cfg.AmendmentMode == config.Optimistic {
		if err := p.validateOptimistic(subPlans); err != nil {
			outcome = "error"
			return nil, err
		}
	}

	result, err := p.addNetworkOperators(a, subPlans)
	if err != nil {
		outcome = "error"
		return nil, err
	}

	if err := p.updateExecutionNodes(a.SharedQueryID, result); err != nil {
		p.rollback(result)
		outcome = "error"
		return nil, err
	}

	return result, nil
}

func pinnedWorkerIDs(ops []*operator.Operator) ([]uint64, error) {
	ids := make([]uint64, 0, len(ops))
	for _, op := range ops {
		workerID, ok := op.PinnedWorkerID()
		if !ok {
			return nil, fmt.Errorf("placement: operator %d has no pinned worker: %w", op.ID, neserr.ErrPlacementCorruption)
		}
		ids = append(ids, workerID)
	}
	return ids, nil
}

// acquirePessimistic locks every node in bfsOrder, releasing everything
// acquired so far and retrying with exponential back-off on any single
// lock failure, up to the configured retry budget.
func (p *Planner) acquirePessimistic(bfsOrder []uint64) ([]*topology.NodeLock, error) {
	retry := p.cfg.PathSelectionRetry

	for attempt := 0; attempt < retry.MaxTries; attempt++ {
		locks := make([]*topology.NodeLock, 0, len(bfsOrder))
		failed := false

		for _, id := range bfsOrder {
			lock, err := p.topo.LockNode(id)
			if err != nil {
				releaseLocks(locks)
				return nil, err
			}
			if lock == nil {
				failed = true
				break
			}
			locks = append(locks, lock)
		}

		if !failed {
			metrics.TopologyNodeLocksHeld.Add(float64(len(locks)))
			return locks, nil
		}

		releaseLocks(locks)
		metrics.PathSelectionRetriesTotal.Inc()
		if attempt == retry.MaxTries-1 {
			break
		}
		time.Sleep(retry.Wait(attempt))
	}

	return nil, fmt.Errorf("placement: exhausted %d path-selection retries: %w", retry.MaxTries, neserr.ErrPathUnavailable)
}

// validateOptimistic re-checks, without holding long-lived locks, that
// every worker touched by subPlans can still accept the slot it was
// planned to occupy.
func (p *Planner) validateOptimistic(subPlans map[uint64]*execplan.SubPlan) error {
	for workerID := range subPlans {
		lock, err := p.topo.LockNode(workerID)
		if err != nil {
			return err
		}
		if lock == nil {
			return fmt.Errorf("placement: worker %d busy during optimistic validation: %w", workerID, neserr.ErrResourceExhausted)
		}
		n, err := p.topo.Node(workerID)
		lock.Unlock()
		if err != nil {
			return err
		}
		if n.Slots < 1 {
			return fmt.Errorf("placement: worker %d has no free slot during optimistic validation: %w", workerID, neserr.ErrResourceExhausted)
		}
	}
	return nil
}

func releaseLocks(locks []*topology.NodeLock) {
	metrics.TopologyNodeLocksHeld.Sub(float64(len(locks)))
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Unlock()
	}
}

// rollback undoes resource occupation recorded against a partially
// committed result; used only on failures encountered after sub-plans
// were already staged.
func (p *Planner) rollback(result *Result) {
	for workerID, plans := range result.SubPlansByWorker {
		_ = p.topo.ReleaseSlots(workerID, len(plans))
	}
}

// updateExecutionNodes commits every staged sub-plan to the Global
// Execution Plan, occupying one slot per sub-plan on its worker.
func (p *Planner) updateExecutionNodes(sharedQueryID uint64, result *Result) error {
	var errs *multierror.Error
	occupied := make(map[uint64]int)

	for workerID, plans := range result.SubPlansByWorker {
		if err := p.topo.OccupySlots(workerID, len(plans)); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		occupied[workerID] = len(plans)
		for _, sp := range plans {
			p.reconcileSubPlan(sharedQueryID, workerID, sp)
			p.plan.ExecutionNode(workerID).AddSubPlan(sp)
		}
	}

	if errs.ErrorOrNil() != nil {
		for workerID, n := range occupied {
			_ = p.topo.ReleaseSlots(workerID, n)
		}
		return errs.ErrorOrNil()
	}

	metrics.ExecutionNodesTotal.Set(float64(len(p.plan.ExecutionNodes())))
	p.logger.Info().
		Uint64("shared_query_id", sharedQueryID).
		Int("workers", len(result.SubPlansByWorker)).
		Msg("placement amendment committed")
	return nil
}

// sortedUint64 returns a sorted copy of ids, used whenever a
// deterministic iteration order is required (e.g. BFS tie-breaks).
func sortedUint64(ids []uint64) []uint64 {
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
