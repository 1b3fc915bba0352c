// Package reconciler runs the periodic sweep that keeps the topology's view
// of worker reliability honest: a worker that misses its heartbeat deadline
// has its topology node's reliability driven to 0, so the next placement
// amendment routes fault-tolerance buffering (and, eventually, a full
// redeploy) away from it.
package reconciler

import (
	"sync"
	"time"

	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/topology"
	"github.com/rs/zerolog"
)

// Reconciler periodically marks topology nodes unreliable once they stop
// heartbeating within deadline.
type Reconciler struct {
	topo     *topology.Graph
	deadline time.Duration
	logger   zerolog.Logger

	mu         sync.Mutex
	lastSeen   map[uint64]time.Time
	markedDown map[uint64]bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciler builds a reconciler watching topo, marking a node down once
// it misses a heartbeat for longer than deadline.
func NewReconciler(topo *topology.Graph, deadline time.Duration) *Reconciler {
	return &Reconciler{
		topo:       topo,
		deadline:   deadline,
		logger:     log.WithComponent("reconciler"),
		lastSeen:   make(map[uint64]time.Time),
		markedDown: make(map[uint64]bool),
		stopCh:     make(chan struct{}),
	}
}

// Heartbeat records that nodeID is alive as of now, called by the
// coordinator's node-registration handler on every worker heartbeat.
func (r *Reconciler) Heartbeat(nodeID uint64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[nodeID] = now
	if r.markedDown[nodeID] {
		delete(r.markedDown, nodeID)
		if err := r.topo.SetReliability(nodeID, 1); err != nil {
			r.logger.Warn().Err(err).Uint64("node_id", nodeID).Msg("failed to restore reliability after heartbeat resumed")
		}
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Reconciler) run() {
	interval := r.deadline / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.reconcile(time.Now())
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile marks every node whose last heartbeat is older than deadline as
// unreliable, relative to now.
func (r *Reconciler) reconcile(now time.Time) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	for nodeID, seen := range r.lastSeen {
		if r.markedDown[nodeID] {
			continue
		}
		if now.Sub(seen) <= r.deadline {
			continue
		}

		r.logger.Warn().
			Uint64("node_id", nodeID).
			Dur("no_heartbeat_duration", now.Sub(seen)).
			Msg("node missed heartbeat deadline, marking unreliable")

		if err := r.topo.SetReliability(nodeID, 0); err != nil {
			r.logger.Error().Err(err).Uint64("node_id", nodeID).Msg("failed to mark node unreliable")
			continue
		}
		r.markedDown[nodeID] = true
		metrics.NodesMarkedUnreliableTotal.Inc()
	}
}
