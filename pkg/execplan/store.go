package execplan

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketSubPlans = []byte("sub_plans")

// ExecPlanStore persists query sub-plans keyed by
// (SharedQueryID, WorkerID, SubPlanID), so a restarted coordinator can
// rebuild the global execution plan before raft replays its log.
type ExecPlanStore interface {
	PutSubPlan(sp *SubPlan) error
	GetSubPlan(sharedQueryID, workerID, subPlanID uint64) (*SubPlan, error)
	ListSubPlans() ([]*SubPlan, error)
	DeleteSubPlan(sharedQueryID, workerID, subPlanID uint64) error
	Close() error
}

// BoltExecPlanStore is a BoltDB-backed ExecPlanStore, one bucket for the
// whole sub-plan set.
type BoltExecPlanStore struct {
	db *bolt.DB
}

// NewBoltExecPlanStore opens (or creates) a BoltDB file at dbPath and
// ensures the sub-plan bucket exists.
func NewBoltExecPlanStore(dbPath string) (*BoltExecPlanStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("execplan store: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSubPlans)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("execplan store: create bucket: %w", err)
	}

	return &BoltExecPlanStore{db: db}, nil
}

func subPlanKey(sharedQueryID, workerID, subPlanID uint64) []byte {
	return []byte(fmt.Sprintf("%020d:%020d:%020d", sharedQueryID, workerID, subPlanID))
}

// PutSubPlan upserts sp, keyed by (SharedQueryID, WorkerID, ID).
func (s *BoltExecPlanStore) PutSubPlan(sp *SubPlan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubPlans)
		data, err := json.Marshal(sp)
		if err != nil {
			return err
		}
		return b.Put(subPlanKey(sp.SharedQueryID, sp.WorkerID, sp.ID), data)
	})
}

// GetSubPlan retrieves a single sub-plan by its composite key.
func (s *BoltExecPlanStore) GetSubPlan(sharedQueryID, workerID, subPlanID uint64) (*SubPlan, error) {
	var sp SubPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubPlans)
		data := b.Get(subPlanKey(sharedQueryID, workerID, subPlanID))
		if data == nil {
			return fmt.Errorf("execplan store: sub-plan %d/%d/%d not found", sharedQueryID, workerID, subPlanID)
		}
		return json.Unmarshal(data, &sp)
	})
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// ListSubPlans returns every persisted sub-plan.
func (s *BoltExecPlanStore) ListSubPlans() ([]*SubPlan, error) {
	var out []*SubPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubPlans)
		return b.ForEach(func(k, v []byte) error {
			var sp SubPlan
			if err := json.Unmarshal(v, &sp); err != nil {
				return err
			}
			out = append(out, &sp)
			return nil
		})
	})
	return out, err
}

// DeleteSubPlan removes a sub-plan by its composite key.
func (s *BoltExecPlanStore) DeleteSubPlan(sharedQueryID, workerID, subPlanID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubPlans)
		return b.Delete(subPlanKey(sharedQueryID, workerID, subPlanID))
	})
}

// Close closes the underlying BoltDB handle.
func (s *BoltExecPlanStore) Close() error {
	return s.db.Close()
}
