package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/nebula/pkg/codegen"
	"github.com/cuemby/nebula/pkg/execplan"
	"github.com/cuemby/nebula/pkg/operator"
	"github.com/cuemby/nebula/pkg/runtime"
	"github.com/cuemby/nebula/pkg/scheduler"
	"github.com/cuemby/nebula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func speedSchema() schema.Schema {
	return schema.New(schema.LayoutRowOriented,
		schema.Field{Name: "speed", Type: schema.TypeFloat64},
	)
}

func newTestDeployer() (*Deployer, *runtime.BufferPool) {
	pool := runtime.NewBufferPool(8, 4096)
	workerPool := runtime.NewWorkerPool(2, pool)
	trigger := scheduler.NewTriggerScheduler(time.Hour)
	d := NewDeployer(1, codegen.BackendSource{}, pool, workerPool, runtime.NewMemoryStateManager(), trigger)
	return d, pool
}

// linearSubPlan builds a single source -> selection -> sink fragment, the
// simplest shape BuildAll must collapse into one segment.
func linearSubPlan() *execplan.SubPlan {
	sp := execplan.NewSubPlan(42, 7, 1)

	sc := speedSchema()
	source := operator.NewOperator(1, operator.KindSource)
	source.OutputSchema = sc
	source.Parents = []operator.ID{2}

	filter := operator.NewOperator(2, operator.KindSelection)
	filter.InputSchema = sc
	filter.OutputSchema = sc
	filter.Predicate = "speed > 50"
	filter.Children = []operator.ID{1}
	filter.Parents = []operator.ID{3}

	sink := operator.NewOperator(3, operator.KindSink)
	sink.InputSchema = sc
	sink.Children = []operator.ID{2}

	sp.AddOperator(source)
	sp.AddOperator(filter)
	sp.AddOperator(sink)
	return sp
}

func TestDeployer_DeployAndWithdrawLinearSubPlan(t *testing.T) {
	d, pool := newTestDeployer()
	sp := linearSubPlan()

	require.NoError(t, d.Deploy([]*execplan.SubPlan{sp}, 0, 0))

	execCtx, artifact, err := d.EntryPoint(sp.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, execCtx)

	raw, err := codegen.EncodeRows(speedSchema(), []codegen.Record{{"speed": 60.0}, {"speed": 10.0}})
	require.NoError(t, err)
	inBuf := runtime.NewTupleBuffer(raw, 2)
	wc := runtime.NewWorkerContext(0, pool)

	status, err := artifact.Execute(context.Background(), inBuf, execCtx, wc)
	require.NoError(t, err)
	assert.Equal(t, codegen.StatusOk, status)

	require.NoError(t, d.Withdraw(sp.ID))

	_, _, err = d.EntryPoint(sp.ID, 2)
	assert.Error(t, err, "withdrawn sub-plan should no longer resolve an entry point")
}

func TestDeployer_WithdrawUnknownSubPlanErrors(t *testing.T) {
	d, _ := newTestDeployer()
	assert.Error(t, d.Withdraw(999))
}

func TestDeployer_DeployBatchesAcrossMultipleSubPlans(t *testing.T) {
	d, _ := newTestDeployer()

	spA := linearSubPlan()
	spB := linearSubPlan()
	spB.ID = 43

	require.NoError(t, d.Deploy([]*execplan.SubPlan{spA, spB}, 1, 0))

	_, _, err := d.EntryPoint(spA.ID, 2)
	assert.NoError(t, err)
	_, _, err = d.EntryPoint(spB.ID, 2)
	assert.NoError(t, err)
}
