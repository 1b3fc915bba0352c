// Package deploy installs a placement result's sub-plans onto this
// worker's in-process runtime: translate each sub-plan's operator graph
// into one or more codegen.Pipeline segments, compile them, wire their
// sinks together, start their handlers, and register them with the
// trigger scheduler for on-time window firing.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nebula/pkg/codegen"
	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/neserr"
	"github.com/cuemby/nebula/pkg/nesnet"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/cuemby/nebula/pkg/scheduler"
	"github.com/rs/zerolog"
)

// NetworkSinkFactory builds the runtime.Sink a network-sink-terminated
// segment streams its output through, given that sink operator's wire
// descriptor. Supplied by the worker hosting the Deployer, which owns
// the actual nesnet connections; the Deployer itself only needs to know
// where to plug one in.
type NetworkSinkFactory func(desc *nesnet.NetworkSinkDescriptor) (runtime.Sink, error)

// NetworkSourceBinding identifies a segment fed by a network source: the
// operator id external frames must be submitted against, and the wire
// descriptor identifying which partition feeds it.
type NetworkSourceBinding struct {
	EntryOpID  operator.ID
	Descriptor *nesnet.NetworkSourceDescriptor
}

// discardSink is the terminal Sink for a segment whose downstream is a
// real sink or network-sink operator: actually delivering tuples to an
// external sink or the network is the I/O driver's job, out of scope
// here, so the chain's last hop simply drops its output buffer back to
// the pool.
type discardSink struct{ pool *runtime.BufferPool }

func (s discardSink) Consume(buf *runtime.TupleBuffer, wc *runtime.WorkerContext) error {
	s.pool.Release(buf)
	return nil
}

// pipelineWiring is one segment's fully wired runtime state.
type pipelineWiring struct {
	segID    operator.ID
	pipeline *codegen.Pipeline
	artifact codegen.Artifact
	execCtx  *runtime.PipelineExecutionContext
}

// installedSubPlan tracks every pipeline wired for one deployed sub-plan,
// so Withdraw can unwind them together.
type installedSubPlan struct {
	subPlan        *execplan.SubPlan
	pipelines      []*pipelineWiring
	networkSources []NetworkSourceBinding
}

// Deployer pushes sub-plans onto this worker's in-process runtime. One
// Deployer is shared by every sub-plan a worker hosts, rather than one
// supervisor per sub-plan.
type Deployer struct {
	compiler     codegen.Compiler
	bufferPool   *runtime.BufferPool
	workerPool   *runtime.WorkerPool
	workerID     uint64
	stateManager runtime.StateManager
	trigger      *scheduler.TriggerScheduler
	logger       zerolog.Logger

	networkSinkFactory NetworkSinkFactory

	mu        sync.Mutex
	installed map[uint64]*installedSubPlan // keyed by SubPlan.ID
}

// SetNetworkSinkFactory installs the callback used to build a runtime.Sink
// for any segment that terminates on a network-sink operator. Must be
// called before Deploy for sub-plans containing cross-worker edges.
func (d *Deployer) SetNetworkSinkFactory(f NetworkSinkFactory) {
	d.networkSinkFactory = f
}

// NewDeployer builds a Deployer for workerID, compiling pipelines with
// compiler and running them against bufferPool/workerPool, registering
// their on-time triggers with trigger.
func NewDeployer(workerID uint64, compiler codegen.Compiler, bufferPool *runtime.BufferPool, workerPool *runtime.WorkerPool, stateManager runtime.StateManager, trigger *scheduler.TriggerScheduler) *Deployer {
	return &Deployer{
		compiler:     compiler,
		bufferPool:   bufferPool,
		workerPool:   workerPool,
		workerID:     workerID,
		stateManager: stateManager,
		trigger:      trigger,
		logger:       log.WithComponent("deploy"),
		installed:    make(map[uint64]*installedSubPlan),
	}
}

// Deploy installs subPlans in batches of batchSize, pausing delay between
// batches, mirroring a rolling update's batch/delay rollout instead of
// pushing every sub-plan onto the worker at once.
func (d *Deployer) Deploy(subPlans []*execplan.SubPlan, batchSize int, delay time.Duration) error {
	if batchSize <= 0 {
		batchSize = len(subPlans)
	}
	if batchSize <= 0 {
		return nil
	}

	total := len(subPlans)
	totalBatches := (total + batchSize - 1) / batchSize
	for i := 0; i < total; i += batchSize {
		end := i + batchSize
		if end > total {
			end = total
		}
		batch := subPlans[i:end]
		batchNum := (i / batchSize) + 1

		d.logger.Info().
			Int("batch", batchNum).
			Int("total_batches", totalBatches).
			Int("sub_plans", len(batch)).
			Msg("deploying sub-plan batch")

		for _, sp := range batch {
			if err := d.deployOne(sp); err != nil {
				return fmt.Errorf("deploy: sub-plan %d: %w", sp.ID, err)
			}
		}

		if delay > 0 && end < total {
			time.Sleep(delay)
		}
	}

	d.logger.Info().Int("sub_plans", total).Msg("deployment complete")
	return nil
}

// deployOne translates sp's operator graph into pipeline segments,
// compiles and starts each one, and registers it for on-time triggering.
func (d *Deployer) deployOne(sp *execplan.SubPlan) error {
	builder := newSegmentBuilder(sp)
	if err := builder.BuildAll(); err != nil {
		return err
	}

	wired := make(map[operator.ID]*pipelineWiring, len(builder.segments))
	for id := range builder.segments {
		if _, err := d.wireSegment(sp, builder, id, wired); err != nil {
			return err
		}
	}

	pipelines := make([]*pipelineWiring, 0, len(wired))
	var networkSources []NetworkSourceBinding
	for segID, w := range wired {
		if err := w.execCtx.StartHandlers(d.stateManager); err != nil {
			return fmt.Errorf("deploy: starting handlers for segment %d: %w", w.segID, err)
		}
		if err := w.artifact.Setup(); err != nil {
			return fmt.Errorf("deploy: setup for segment %d: %w", w.segID, err)
		}
		if err := w.artifact.Start(d.stateManager); err != nil {
			return fmt.Errorf("deploy: starting segment %d: %w", w.segID, err)
		}
		d.trigger.Register(w.execCtx.PipelineID, w.execCtx)
		pipelines = append(pipelines, w)

		if seg := builder.segments[segID]; seg.entryBoundary != nil && seg.entryBoundary.Kind == operator.KindNetworkSource {
			if desc, ok := seg.entryBoundary.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSourceDescriptor); ok {
				networkSources = append(networkSources, NetworkSourceBinding{EntryOpID: w.segID, Descriptor: desc})
			}
		}
	}

	d.mu.Lock()
	d.installed[sp.ID] = &installedSubPlan{subPlan: sp, pipelines: pipelines, networkSources: networkSources}
	d.mu.Unlock()

	d.logger.Info().
		Uint64("sub_plan_id", sp.ID).
		Uint64("shared_query_id", sp.SharedQueryID).
		Int("segments", len(pipelines)).
		Msg("sub-plan deployed")
	return nil
}

// wireSegment builds (or returns the cached) pipelineWiring for segID,
// recursing into its downstream segment first so its InProcessSink can
// reference an already-compiled artifact and execution context.
func (d *Deployer) wireSegment(sp *execplan.SubPlan, builder *segmentBuilder, segID operator.ID, wired map[operator.ID]*pipelineWiring) (*pipelineWiring, error) {
	if w, ok := wired[segID]; ok {
		return w, nil
	}
	seg, ok := builder.segments[segID]
	if !ok {
		return nil, fmt.Errorf("deploy: segment %d: %w", segID, neserr.ErrUnknownOperator)
	}

	var sink runtime.Sink
	switch {
	case seg.downstream != 0:
		downstream, err := d.wireSegment(sp, builder, seg.downstream, wired)
		if err != nil {
			return nil, err
		}
		downstreamArtifact := downstream.artifact
		sink = &runtime.InProcessSink{
			Downstream: func(in *runtime.TupleBuffer, ctx *runtime.PipelineExecutionContext, wc *runtime.WorkerContext) error {
				_, err := downstreamArtifact.Execute(context.Background(), in, ctx, wc)
				return err
			},
			Context: downstream.execCtx,
		}

	case seg.exitBoundary != nil && seg.exitBoundary.Kind == operator.KindNetworkSink && d.networkSinkFactory != nil:
		desc, ok := seg.exitBoundary.Properties[operator.PropNetworkDescriptor].(*nesnet.NetworkSinkDescriptor)
		if !ok {
			return nil, fmt.Errorf("deploy: network sink operator %d has no wire descriptor", seg.exitBoundary.ID)
		}
		netSink, err := d.networkSinkFactory(desc)
		if err != nil {
			return nil, fmt.Errorf("deploy: building network sink for segment %d: %w", segID, err)
		}
		sink = netSink

	default:
		// A real sink, or a network sink with no factory installed, or a
		// dead end with nothing downstream in this sub-plan: delivering
		// to an external sink is the I/O driver's job, out of scope here.
		sink = discardSink{pool: d.bufferPool}
	}

	execCtx := runtime.NewPipelineExecutionContext(pipelineIDFor(sp, segID), seg.handlers, sink, d.bufferPool)
	artifact, err := d.compiler.Generate(seg.pipeline)
	if err != nil {
		return nil, fmt.Errorf("deploy: compiling segment %d: %w", segID, err)
	}

	w := &pipelineWiring{segID: segID, pipeline: seg.pipeline, artifact: artifact, execCtx: execCtx}
	wired[segID] = w
	return w, nil
}

// pipelineIDFor derives a stable pipeline id from a sub-plan and its
// segment's start operator, unique across the worker's whole deployment.
func pipelineIDFor(sp *execplan.SubPlan, segID operator.ID) uint64 {
	return sp.ID<<32 | uint64(segID)&0xffffffff
}

// Withdraw stops and unregisters every pipeline installed for subPlanID.
func (d *Deployer) Withdraw(subPlanID uint64) error {
	d.mu.Lock()
	installed, ok := d.installed[subPlanID]
	if ok {
		delete(d.installed, subPlanID)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("deploy: sub-plan %d: %w", subPlanID, neserr.ErrUnknownOperator)
	}

	var firstErr error
	for _, w := range installed.pipelines {
		d.trigger.Unregister(w.execCtx.PipelineID)
		if err := w.artifact.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deploy: stopping segment %d: %w", w.segID, err)
		}
		if err := w.execCtx.StopHandlers(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deploy: stopping handlers for segment %d: %w", w.segID, err)
		}
	}

	d.logger.Info().Uint64("sub_plan_id", subPlanID).Msg("sub-plan withdrawn")
	return firstErr
}

// EntryPoint returns the execution context and artifact for the segment
// starting at operator entryOpID within subPlanID's deployment, the hook
// an external source driver (out of scope here) submits inbound buffers
// through.
func (d *Deployer) EntryPoint(subPlanID uint64, entryOpID operator.ID) (*runtime.PipelineExecutionContext, codegen.Artifact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	installed, ok := d.installed[subPlanID]
	if !ok {
		return nil, nil, fmt.Errorf("deploy: sub-plan %d: %w", subPlanID, neserr.ErrUnknownOperator)
	}
	for _, w := range installed.pipelines {
		if w.segID == entryOpID {
			return w.execCtx, w.artifact, nil
		}
	}
	return nil, nil, fmt.Errorf("deploy: sub-plan %d has no segment starting at operator %d: %w", subPlanID, entryOpID, neserr.ErrUnknownOperator)
}

// NetworkSources returns every network-source-fed segment's entry point
// within subPlanID's deployment, for the worker to bind incoming nesnet
// transfer streams against.
func (d *Deployer) NetworkSources(subPlanID uint64) ([]NetworkSourceBinding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	installed, ok := d.installed[subPlanID]
	if !ok {
		return nil, fmt.Errorf("deploy: sub-plan %d: %w", subPlanID, neserr.ErrUnknownOperator)
	}
	return installed.networkSources, nil
}

// Submit hands an inbound buffer to the worker pool for asynchronous
// execution against the segment starting at entryOpID within
// subPlanID's deployment. Execution happens on a pool goroutine after
// this call returns; errors surface through the pool's own logging, not
// through a return value here. Submit reports false if the pool has
// been stopped and the buffer was rejected.
func (d *Deployer) Submit(ctx context.Context, subPlanID uint64, entryOpID operator.ID, buf *runtime.TupleBuffer, wc *runtime.WorkerContext) (bool, error) {
	execCtx, artifact, err := d.EntryPoint(subPlanID, entryOpID)
	if err != nil {
		return false, err
	}

	stage := func(stageCtx context.Context, in *runtime.TupleBuffer, ec *runtime.PipelineExecutionContext, workerCtx *runtime.WorkerContext) error {
		_, err := artifact.Execute(stageCtx, in, ec, workerCtx)
		return err
	}

	return d.workerPool.Submit(ctx, buf, stage, execCtx, wc), nil
}
