// Command nebula-coordinator is the entry point that places queries onto
// the engine's worker topology and drives its in-process worker
// runtimes. The "demo" subcommand is the smallest walkthrough that
// still exercises a real cross-worker edge end to end: placement splits
// one logical plan across two workers, the planner splices in a
// network sink/source pair for the edge that crosses between them, and
// the two workers talk over an actual nesnet gRPC stream.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/nebula/pkg/codegen"
	"github.com/cuemby/nebula/pkg/config"
	"github.com/cuemby/nebula/pkg/deploy"
	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/placement"
	"github.com/cuemby/nebula/pkg/reconciler"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/cuemby/nebula/pkg/scheduler"
	"github.com/cuemby/nebula/pkg/schema"
	"github.com/cuemby/nebula/pkg/topology"
	"github.com/cuemby/nebula/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nebula-coordinator",
	Short: "Nebula Stream Engine coordinator",
	Long: `nebula-coordinator runs the Nebula Stream Engine's placement
planner against a logical query plan, installs the resulting sub-plans
onto the engine's worker runtimes, and wires any cross-worker operator
edges over the nesnet transport.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"nebula-coordinator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(demoCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Place and deploy a query across two in-process workers",
	Long: `demo builds a two-node topology and a four-operator query
(source -> selection -> map -> sink), pins the source to worker 1 and
the map/sink to worker 2, and hands the plan to the placement planner.
The selection has no pin of its own so it inherits worker 1 from its
child, which means the planner splices a network sink into worker 1's
sub-plan and a matching network source into worker 2's: the one
operator edge that actually crosses a worker boundary. It then starts
both workers, installs their sub-plans, and feeds a handful of
synthetic speed readings through the resulting pipeline over a real
nesnet gRPC stream.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().String("worker1-addr", "127.0.0.1:17700", "Listen address for the upstream worker")
	demoCmd.Flags().String("worker2-addr", "127.0.0.1:17701", "Listen address for the downstream worker")
	demoCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics listen address")
	demoCmd.Flags().Int("tuples", 5, "Number of synthetic speed readings to inject")
	demoCmd.Flags().Duration("settle", 2*time.Second, "How long to let the pipeline drain before reporting execution counts")
}

func runDemo(cmd *cobra.Command, args []string) error {
	worker1Addr, _ := cmd.Flags().GetString("worker1-addr")
	worker2Addr, _ := cmd.Flags().GetString("worker2-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	tupleCount, _ := cmd.Flags().GetInt("tuples")
	settle, _ := cmd.Flags().GetDuration("settle")

	logger := log.WithComponent("demo")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("topology", true, "bootstrapped")
	metrics.RegisterComponent("placement", true, "bootstrapped")
	go serveMetrics(metricsAddr)

	topo, err := buildTopology(worker1Addr, worker2Addr)
	if err != nil {
		return err
	}

	sc := schema.New(schema.LayoutRowOriented, schema.Field{Name: "speed", Type: schema.TypeFloat64})
	const sharedQueryID = 1
	plan, source, sink := buildQueryPlan(sc)
	if err := plan.InferTypes(); err != nil {
		return fmt.Errorf("inferring schemas: %w", err)
	}

	gep := execplan.NewGlobalPlan()
	planner := placement.NewPlanner(topo, gep, config.Default())
	result, err := planner.Amend(placement.Amendment{
		SharedQueryID:    sharedQueryID,
		Plan:             plan,
		PinnedUpstream:   []*operator.Operator{source},
		PinnedDownstream: []*operator.Operator{sink},
	})
	if err != nil {
		return fmt.Errorf("placing query: %w", err)
	}

	reconcile := reconciler.NewReconciler(topo, 10*time.Second)
	reconcile.Start()
	defer reconcile.Stop()

	w1, pool1, stop1 := buildWorker(1, worker1Addr, reconcile)
	defer stop1()
	w2, _, stop2 := buildWorker(2, worker2Addr, reconcile)
	defer stop2()

	// Both transfer servers must already be listening before either
	// worker deploys a sub-plan whose network sink dials the other.
	if err := w1.Start(); err != nil {
		return fmt.Errorf("starting worker 1: %w", err)
	}
	defer w1.Stop()
	if err := w2.Start(); err != nil {
		return fmt.Errorf("starting worker 2: %w", err)
	}
	defer w2.Stop()

	if err := w2.Install(result.SubPlansByWorker[2]); err != nil {
		return fmt.Errorf("installing worker 2 sub-plans: %w", err)
	}
	if err := w1.Install(result.SubPlansByWorker[1]); err != nil {
		return fmt.Errorf("installing worker 1 sub-plans: %w", err)
	}

	sourceSubPlanID, entryOpID, err := entryPointFor(result.SubPlansByWorker[1], source.ID)
	if err != nil {
		return err
	}

	logger.Info().
		Uint64("shared_query_id", sharedQueryID).
		Int("worker1_sub_plans", len(result.SubPlansByWorker[1])).
		Int("worker2_sub_plans", len(result.SubPlansByWorker[2])).
		Msg("query placed across two workers")

	if err := injectTuples(cmd.Context(), w1, pool1, sc, sourceSubPlanID, entryOpID, tupleCount); err != nil {
		return fmt.Errorf("injecting tuples: %w", err)
	}

	time.Sleep(settle)
	executed := testutil.ToFloat64(metrics.PipelinesExecutedTotal.WithLabelValues("success"))
	fmt.Printf("pipeline stage executions so far: %.0f\n", executed)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	fmt.Println("demo running, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

// buildTopology registers the demo's two worker nodes and the single
// upstream->downstream link between them.
func buildTopology(worker1Addr, worker2Addr string) (*topology.Graph, error) {
	topo := topology.NewGraph()
	nodes := []struct {
		id   uint64
		addr string
	}{
		{1, worker1Addr},
		{2, worker2Addr},
	}
	for _, n := range nodes {
		if err := topo.AddNode(&topology.Node{
			ID:      n.id,
			Address: n.addr,
			Slots:   4,
			Resources: topology.Resources{
				AvailableMemory: 1 << 24, InitialMemory: 1 << 24,
				AvailableNetwork: 1 << 24, InitialNetwork: 1 << 24,
			},
			Reliability: 1,
		}); err != nil {
			return nil, fmt.Errorf("registering worker %d: %w", n.id, err)
		}
	}
	if err := topo.Connect(1, 2, 1); err != nil {
		return nil, fmt.Errorf("connecting worker 1 to worker 2: %w", err)
	}
	return topo, nil
}

// buildQueryPlan builds source(1) -> selection(2) -> map(3) -> sink(4):
// a speed filter feeding a unit conversion. Only source and sink/map
// carry an explicit pin; selection is left to inherit its worker from
// whichever side of the split reaches it first.
func buildQueryPlan(sc schema.Schema) (*operator.Plan, *operator.Operator, *operator.Operator) {
	plan := operator.NewPlan(1)

	source := operator.NewOperator(1, operator.KindSource)
	source.OutputSchema = sc
	source.SetPinnedWorkerID(1)

	selection := operator.NewOperator(2, operator.KindSelection)
	selection.Predicate = "speed > 50"

	mapOp := operator.NewOperator(3, operator.KindMap)
	mapOp.Expression = "speed * 1.60934" // mph -> km/h, in place
	mapOp.SetPinnedWorkerID(2)

	sink := operator.NewOperator(4, operator.KindSink)
	sink.SetPinnedWorkerID(2)

	plan.AddOperator(source)
	plan.AddOperator(selection)
	plan.AddOperator(mapOp)
	plan.AddOperator(sink)
	_ = plan.Connect(1, 2)
	_ = plan.Connect(2, 3)
	_ = plan.Connect(3, 4)

	return plan, source, sink
}

// buildWorker wires a fresh runtime stack (buffer pool, worker pool,
// trigger scheduler, Deployer) around a Worker for nodeID, returning a
// shutdown func that stops everything in reverse order.
func buildWorker(nodeID uint64, addr string, hb worker.HeartbeatSink) (*worker.Worker, *runtime.BufferPool, func()) {
	pool := runtime.NewBufferPool(16, 4096)
	workerPool := runtime.NewWorkerPool(2, pool)
	trigger := scheduler.NewTriggerScheduler(time.Second)
	trigger.Start()

	d := deploy.NewDeployer(nodeID, codegen.BackendSource{}, pool, workerPool, runtime.NewMemoryStateManager(), trigger)
	w := worker.NewWorker(worker.Config{
		NodeID:         nodeID,
		ListenAddress:  addr,
		HeartbeatEvery: 2 * time.Second,
	}, d, pool, hb)

	stop := func() {
		trigger.Stop()
		workerPool.Stop()
	}
	return w, pool, stop
}

// entryPointFor finds the sub-plan containing opID and the operator id
// an external driver must submit against: the first non-structural
// operator downstream of opID (segmentBuilder descends through a
// source boundary, so a source operator id is never itself a valid
// entry point).
func entryPointFor(subPlans []*execplan.SubPlan, opID operator.ID) (uint64, operator.ID, error) {
	for _, sp := range subPlans {
		src, ok := sp.Operators[opID]
		if !ok {
			continue
		}
		if len(src.Parents) != 1 {
			return 0, 0, fmt.Errorf("operator %d has %d parents, expected exactly one downstream step", opID, len(src.Parents))
		}
		return sp.ID, src.Parents[0], nil
	}
	return 0, 0, fmt.Errorf("no sub-plan contains operator %d", opID)
}

// injectTuples builds n synthetic speed readings and submits them as a
// single buffer to worker w's subPlanID/entryOpID segment.
func injectTuples(ctx context.Context, w *worker.Worker, pool *runtime.BufferPool, sc schema.Schema, subPlanID uint64, entryOpID operator.ID, n int) error {
	records := make([]codegen.Record, n)
	for i := 0; i < n; i++ {
		records[i] = codegen.Record{"speed": 40.0 + float64(i)*10}
	}
	raw, err := codegen.EncodeRows(sc, records)
	if err != nil {
		return fmt.Errorf("encoding synthetic tuples: %w", err)
	}

	buf := runtime.NewTupleBuffer(raw, uint64(n))
	wc := runtime.NewWorkerContext(0, pool)
	ok, err := w.Submit(ctx, subPlanID, entryOpID, buf, wc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("worker pool rejected tuple submission")
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server stopped", err)
	}
}
