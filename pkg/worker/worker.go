// Package worker hosts the engine's data-plane agent: an in-process
// Deployer instance plus the network transport that stitches one worker's
// sub-plans to another's across a cross-node operator edge. A Worker's
// only RPC surface is the nesnet wire handshake (NetworkTransfer's
// bidirectional frame stream); sub-plan installation, withdrawal, and
// liveness reporting all happen through direct in-process calls from
// whatever hosts the worker (a coordinator process wiring up a local
// demo, or a test harness).
package worker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/nebula/pkg/deploy"
	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/nesnet"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// HeartbeatSink is the liveness hook a Worker reports into on every tick,
// the shape reconciler.Reconciler.Heartbeat implements.
type HeartbeatSink interface {
	Heartbeat(nodeID uint64, now time.Time)
}

// Config configures a Worker's network transport and heartbeat cadence.
type Config struct {
	NodeID uint64
	// ListenAddress is the host:port this worker's NetworkTransfer server
	// binds to accept inbound frames for its network-source segments.
	ListenAddress string
	// HeartbeatEvery is how often the worker reports itself alive.
	// Defaults to 5 seconds if zero.
	HeartbeatEvery time.Duration
	// DeployBatchSize/DeployBatchDelay are forwarded to Deployer.Deploy
	// on every Install call. A zero batch size deploys every sub-plan in
	// one batch.
	DeployBatchSize  int
	DeployBatchDelay time.Duration
}

// sourceBinding resolves an inbound partition to the sub-plan segment it
// feeds.
type sourceBinding struct {
	subPlanID uint64
	entryOpID operator.ID
}

// Worker is one topology node's data-plane agent: it hosts a Deployer
// that runs this node's sub-plans, a NetworkTransfer server accepting
// frames for any segment fed by a network source, and dials out to peer
// workers for any segment terminating on a network sink.
type Worker struct {
	nodeID     uint64
	deployer   *deploy.Deployer
	bufferPool *runtime.BufferPool
	heartbeat  HeartbeatSink
	logger     zerolog.Logger

	listenAddress    string
	heartbeatEvery   time.Duration
	deployBatchSize  int
	deployBatchDelay time.Duration

	grpcServer *grpc.Server

	connMu  sync.Mutex
	clients map[string]*grpc.ClientConn // dialed peer connections, keyed by NodeLocation.String()

	srcMu    sync.RWMutex
	sources  map[nesnet.Partition]sourceBinding
	subPlans map[uint64][]nesnet.Partition // partitions registered per sub-plan, for Withdraw cleanup

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker builds a Worker around an already-constructed Deployer and
// the buffer pool it shares with it, reporting liveness into heartbeat.
func NewWorker(cfg Config, deployer *deploy.Deployer, bufferPool *runtime.BufferPool, heartbeat HeartbeatSink) *Worker {
	heartbeatEvery := cfg.HeartbeatEvery
	if heartbeatEvery <= 0 {
		heartbeatEvery = 5 * time.Second
	}

	w := &Worker{
		nodeID:           cfg.NodeID,
		deployer:         deployer,
		bufferPool:       bufferPool,
		heartbeat:        heartbeat,
		logger:           log.WithWorkerID(cfg.NodeID),
		listenAddress:    cfg.ListenAddress,
		heartbeatEvery:   heartbeatEvery,
		deployBatchSize:  cfg.DeployBatchSize,
		deployBatchDelay: cfg.DeployBatchDelay,
		clients:          make(map[string]*grpc.ClientConn),
		sources:          make(map[nesnet.Partition]sourceBinding),
		subPlans:         make(map[uint64][]nesnet.Partition),
		stopCh:           make(chan struct{}),
	}
	deployer.SetNetworkSinkFactory(w.dialSink)
	return w
}

// Start binds the NetworkTransfer server and begins the heartbeat loop.
func (w *Worker) Start() error {
	lis, err := net.Listen("tcp", w.listenAddress)
	if err != nil {
		return fmt.Errorf("worker: listening on %s: %w", w.listenAddress, err)
	}

	w.grpcServer = grpc.NewServer()
	nesnet.RegisterNetworkTransferServer(w.grpcServer, &transferServer{w: w})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.grpcServer.Serve(lis); err != nil {
			w.logger.Error().Err(err).Msg("network transfer server stopped")
		}
	}()

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.logger.Info().Str("listen_address", w.listenAddress).Msg("worker started")
	return nil
}

// Stop tears down the NetworkTransfer server, closes every dialed peer
// connection, and halts the heartbeat loop.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })

	if w.grpcServer != nil {
		w.grpcServer.GracefulStop()
	}

	w.connMu.Lock()
	for addr, cc := range w.clients {
		if err := cc.Close(); err != nil {
			w.logger.Warn().Err(err).Str("address", addr).Msg("closing peer connection")
		}
	}
	w.clients = make(map[string]*grpc.ClientConn)
	w.connMu.Unlock()

	w.wg.Wait()
	w.logger.Info().Msg("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.heartbeat.Heartbeat(w.nodeID, time.Now())
		case <-w.stopCh:
			return
		}
	}
}

// Install deploys subPlans onto this worker's runtime and, once running,
// registers every network-source-fed segment's partition so inbound
// frames addressed to it route to the right entry point.
func (w *Worker) Install(subPlans []*execplan.SubPlan) error {
	if err := w.deployer.Deploy(subPlans, w.deployBatchSize, w.deployBatchDelay); err != nil {
		return err
	}

	for _, sp := range subPlans {
		bindings, err := w.deployer.NetworkSources(sp.ID)
		if err != nil {
			return fmt.Errorf("worker: resolving network sources for sub-plan %d: %w", sp.ID, err)
		}
		w.registerSources(sp.ID, bindings)
	}
	return nil
}

// Withdraw tears down subPlanID's pipelines and forgets any partitions
// that were routed to it.
func (w *Worker) Withdraw(subPlanID uint64) error {
	if err := w.deployer.Withdraw(subPlanID); err != nil {
		return err
	}

	w.srcMu.Lock()
	for _, p := range w.subPlans[subPlanID] {
		delete(w.sources, p)
	}
	delete(w.subPlans, subPlanID)
	w.srcMu.Unlock()
	return nil
}

// Submit hands an inbound buffer to subPlanID's entryOpID segment,
// asynchronously on the worker's pool. The hook an external source
// driver (out of scope here) uses to feed this worker's source
// operators.
func (w *Worker) Submit(ctx context.Context, subPlanID uint64, entryOpID operator.ID, buf *runtime.TupleBuffer, wc *runtime.WorkerContext) (bool, error) {
	return w.deployer.Submit(ctx, subPlanID, entryOpID, buf, wc)
}

func (w *Worker) registerSources(subPlanID uint64, bindings []deploy.NetworkSourceBinding) {
	if len(bindings) == 0 {
		return
	}
	w.srcMu.Lock()
	defer w.srcMu.Unlock()
	for _, b := range bindings {
		partition := b.Descriptor.Partition
		w.sources[partition] = sourceBinding{subPlanID: subPlanID, entryOpID: b.EntryOpID}
		w.subPlans[subPlanID] = append(w.subPlans[subPlanID], partition)
	}
}

func (w *Worker) lookupSource(p nesnet.Partition) (sourceBinding, bool) {
	w.srcMu.RLock()
	defer w.srcMu.RUnlock()
	b, ok := w.sources[p]
	return b, ok
}

// clientConn returns the dialed connection to loc, reusing one already
// open to the same address.
func (w *Worker) clientConn(loc nesnet.NodeLocation) (*grpc.ClientConn, error) {
	addr := loc.String()

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if cc, ok := w.clients[addr]; ok {
		return cc, nil
	}

	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("worker: dialing %s: %w", addr, err)
	}
	w.clients[addr] = cc
	return cc, nil
}

// dialSink opens (or reuses) a NetworkTransfer stream to desc's location
// and returns it wrapped as a runtime.Sink, installed as the Deployer's
// NetworkSinkFactory.
func (w *Worker) dialSink(desc *nesnet.NetworkSinkDescriptor) (runtime.Sink, error) {
	cc, err := w.clientConn(desc.Location)
	if err != nil {
		return nil, err
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), partitionMetadataPairs(desc.Partition)...)
	stream, err := nesnet.DialTransferClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("worker: opening transfer stream to %s: %w", desc.Location, err)
	}

	return &networkSink{stream: stream, desc: desc}, nil
}

// networkSink serializes every produced buffer into a nesnet.Frame and
// sends it over an already-open transfer stream to the operator's
// downstream peer worker.
type networkSink struct {
	mu     sync.Mutex
	stream nesnet.NetworkTransfer_TransferClient
	desc   *nesnet.NetworkSinkDescriptor
}

func (s *networkSink) Consume(buf *runtime.TupleBuffer, wc *runtime.WorkerContext) error {
	frame := &nesnet.Frame{
		Header: nesnet.NewBufferHeader(buf.OriginID, buf.SequenceNumber, buf.NumberOfTuples(), uint64(len(buf.Buffer())), buf.WatermarkTime),
		Payload: append([]byte(nil), buf.Buffer()...),
	}

	s.mu.Lock()
	err := s.stream.Send(frame)
	s.mu.Unlock()

	if wc != nil && wc.Pool != nil {
		wc.Pool.Release(buf)
	}
	if err != nil {
		return fmt.Errorf("worker: sending frame to %s: %w", s.desc.Location, err)
	}
	return nil
}

// transferServer implements nesnet.NetworkTransferServer: one Transfer
// call per connected partition, recovering which partition from the
// stream's incoming metadata and feeding every received frame to that
// partition's registered segment.
type transferServer struct {
	w *Worker
}

func (s *transferServer) Transfer(stream nesnet.NetworkTransfer_TransferServer) error {
	md, ok := metadata.FromIncomingContext(stream.Context())
	if !ok {
		return fmt.Errorf("worker: transfer stream missing partition metadata")
	}
	partition, err := partitionFromMetadata(md)
	if err != nil {
		return err
	}
	binding, ok := s.w.lookupSource(partition)
	if !ok {
		return fmt.Errorf("worker: no registered segment for partition %+v", partition)
	}

	for {
		frame, err := stream.Recv()
		if err != nil {
			return err
		}

		buf := runtime.NewTupleBuffer(frame.Payload, frame.Header.NumTuples)
		buf.OriginID = frame.Header.OriginID
		buf.SequenceNumber = frame.Header.SequenceNumber
		if frame.Header.Watermark != nil {
			buf.WatermarkTime = frame.Header.Watermark.AsTime()
		}

		wc := runtime.NewWorkerContext(s.w.nodeID, s.w.bufferPool)
		if _, err := s.w.deployer.Submit(stream.Context(), binding.subPlanID, binding.entryOpID, buf, wc); err != nil {
			s.w.logger.Error().Err(err).
				Uint64("sub_plan_id", binding.subPlanID).
				Msg("submitting inbound frame")
		}
	}
}

const (
	mdQueryID        = "x-nesnet-query-id"
	mdOperatorID     = "x-nesnet-operator-id"
	mdPartitionID    = "x-nesnet-partition-id"
	mdSubpartitionID = "x-nesnet-subpartition-id"
)

// partitionMetadataPairs encodes a Partition as grpc outgoing metadata,
// the handshake the gob-framed NetworkTransfer stream uses in place of a
// protobuf connect message.
func partitionMetadataPairs(p nesnet.Partition) []string {
	return []string{
		mdQueryID, strconv.FormatUint(p.QueryID, 10),
		mdOperatorID, strconv.FormatUint(p.OperatorID, 10),
		mdPartitionID, strconv.FormatUint(uint64(p.PartitionID), 10),
		mdSubpartitionID, strconv.FormatUint(uint64(p.SubpartitionID), 10),
	}
}

func partitionFromMetadata(md metadata.MD) (nesnet.Partition, error) {
	get := func(key string) (uint64, error) {
		vals := md.Get(key)
		if len(vals) == 0 {
			return 0, fmt.Errorf("worker: transfer stream metadata missing %q", key)
		}
		return strconv.ParseUint(vals[0], 10, 64)
	}

	queryID, err := get(mdQueryID)
	if err != nil {
		return nesnet.Partition{}, err
	}
	operatorID, err := get(mdOperatorID)
	if err != nil {
		return nesnet.Partition{}, err
	}
	partitionID, err := get(mdPartitionID)
	if err != nil {
		return nesnet.Partition{}, err
	}
	subpartitionID, err := get(mdSubpartitionID)
	if err != nil {
		return nesnet.Partition{}, err
	}

	return nesnet.Partition{
		QueryID:        queryID,
		OperatorID:     operatorID,
		PartitionID:    uint32(partitionID),
		SubpartitionID: uint32(subpartitionID),
	}, nil
}
