package execplan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltExecPlanStore_PutGetListDelete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "execplan.db")
	store, err := NewBoltExecPlanStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	sp := NewSubPlan(1, 100, 7)
	require.NoError(t, store.PutSubPlan(sp))

	got, err := store.GetSubPlan(100, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, sp.ID, got.ID)
	assert.Equal(t, sp.WorkerID, got.WorkerID)

	all, err := store.ListSubPlans()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteSubPlan(100, 7, 1))
	_, err = store.GetSubPlan(100, 7, 1)
	assert.Error(t, err)
}

func TestBoltExecPlanStore_GetMissing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "execplan.db")
	store, err := NewBoltExecPlanStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetSubPlan(1, 2, 3)
	assert.Error(t, err)
}
