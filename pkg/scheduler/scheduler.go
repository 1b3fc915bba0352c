// Package scheduler drives the on-time half of a window/join handler's
// trigger policy: codegen's interpreter already fires a handler's Trigger
// on every record (the on-record path), but a handler with no further
// input arriving still needs its ready slices flushed once its window
// closes. TriggerScheduler is the ticker-driven loop that does that.
package scheduler

import (
	"sync"
	"time"

	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/rs/zerolog"
)

// TriggerScheduler periodically calls TriggerHandlers on every pipeline
// execution context registered with it.
type TriggerScheduler struct {
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.RWMutex
	ctxs map[uint64]*runtime.PipelineExecutionContext

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTriggerScheduler builds a scheduler that fires every interval.
func NewTriggerScheduler(interval time.Duration) *TriggerScheduler {
	return &TriggerScheduler{
		interval: interval,
		logger:   log.WithComponent("scheduler"),
		ctxs:     make(map[uint64]*runtime.PipelineExecutionContext),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a pipeline's execution context to the trigger rotation.
func (s *TriggerScheduler) Register(pipelineID uint64, execCtx *runtime.PipelineExecutionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxs[pipelineID] = execCtx
}

// Unregister removes a pipeline from the trigger rotation, called once its
// sub-plan is torn down.
func (s *TriggerScheduler) Unregister(pipelineID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ctxs, pipelineID)
}

// Start begins the trigger loop.
func (s *TriggerScheduler) Start() {
	go s.run()
}

// Stop halts the trigger loop.
func (s *TriggerScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *TriggerScheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.triggerAll()
		case <-s.stopCh:
			return
		}
	}
}

func (s *TriggerScheduler) triggerAll() {
	s.mu.RLock()
	targets := make(map[uint64]*runtime.PipelineExecutionContext, len(s.ctxs))
	for id, ctx := range s.ctxs {
		targets[id] = ctx
	}
	s.mu.RUnlock()

	timer := metrics.NewTimer()
	for pipelineID, execCtx := range targets {
		if err := execCtx.TriggerHandlers(); err != nil {
			metrics.WindowTriggerFailuresTotal.Inc()
			s.logger.Error().Err(err).Uint64("pipeline_id", pipelineID).Msg("trigger cycle failed")
		}
	}
	timer.ObserveDuration(metrics.WindowTriggerDuration)
}
