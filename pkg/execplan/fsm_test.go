package execplan

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCommandBytes(t *testing.T, op string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	cmdBytes, err := json.Marshal(Command{Op: op, Data: raw})
	require.NoError(t, err)
	return cmdBytes
}

func TestFSM_Apply_AddSubPlan(t *testing.T) {
	plan := NewGlobalPlan()
	fsm := NewFSM(plan)

	sp := NewSubPlan(1, 100, 7)
	data := mustCommandBytes(t, OpAddSubPlan, addSubPlanCmd{SubPlan: sp})

	result := fsm.Apply(&raft.Log{Data: data})
	assert.Nil(t, result)

	got := plan.ExecutionNode(7).SubPlans(100)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
}

func TestFSM_Apply_RemoveSubPlan(t *testing.T) {
	plan := NewGlobalPlan()
	plan.ExecutionNode(7).AddSubPlan(NewSubPlan(1, 100, 7))
	fsm := NewFSM(plan)

	data := mustCommandBytes(t, OpRemoveSubPlan, removeSubPlanCmd{SharedQueryID: 100, SubPlanID: 1, WorkerID: 7})
	result := fsm.Apply(&raft.Log{Data: data})
	assert.Nil(t, result)

	assert.Empty(t, plan.ExecutionNode(7).SubPlans(100))
}

func TestFSM_Apply_UnknownCommand(t *testing.T) {
	plan := NewGlobalPlan()
	fsm := NewFSM(plan)

	cmdBytes, err := json.Marshal(Command{Op: "bogus"})
	require.NoError(t, err)

	result := fsm.Apply(&raft.Log{Data: cmdBytes})
	assert.Error(t, result.(error))
}

type fakeSnapshotSink struct {
	bytes.Buffer
}

func (f *fakeSnapshotSink) ID() string     { return "test" }
func (f *fakeSnapshotSink) Cancel() error  { return nil }
func (f *fakeSnapshotSink) Close() error   { return nil }

func TestFSM_SnapshotAndRestore(t *testing.T) {
	plan := NewGlobalPlan()
	plan.ExecutionNode(7).AddSubPlan(NewSubPlan(1, 100, 7))
	fsm := NewFSM(plan)

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &fakeSnapshotSink{}
	require.NoError(t, snap.Persist(sink))

	restoredPlan := NewGlobalPlan()
	restoredFSM := NewFSM(restoredPlan)
	require.NoError(t, restoredFSM.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	got := restoredPlan.ExecutionNode(7).SubPlans(100)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
}
