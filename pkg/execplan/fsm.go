package execplan

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// Command represents a single state change applied to the global
// execution plan through the raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// marshalCommand serializes cmd for submission through Cluster.Apply.
func marshalCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("execplan fsm: marshal command: %w", err)
	}
	return data, nil
}

const (
	OpAddSubPlan    = "add_sub_plan"
	OpRemoveSubPlan = "remove_sub_plan"
	OpReplaceState  = "replace_state"
)

// addSubPlanCmd is the Data payload for OpAddSubPlan.
type addSubPlanCmd struct {
	SubPlan *SubPlan
}

// removeSubPlanCmd is the Data payload for OpRemoveSubPlan.
type removeSubPlanCmd struct {
	SharedQueryID uint64
	SubPlanID     uint64
	WorkerID      uint64
}

// NewAddSubPlanCommand builds the Command a coordinator proposes through
// Cluster.Apply to install sp onto every raft replica's GlobalPlan.
func NewAddSubPlanCommand(sp *SubPlan) (Command, error) {
	data, err := json.Marshal(addSubPlanCmd{SubPlan: sp})
	if err != nil {
		return Command{}, fmt.Errorf("execplan fsm: marshal add-sub-plan payload: %w", err)
	}
	return Command{Op: OpAddSubPlan, Data: data}, nil
}

// NewRemoveSubPlanCommand builds the Command a coordinator proposes
// through Cluster.Apply to remove a sub-plan from every replica's
// GlobalPlan.
func NewRemoveSubPlanCommand(sharedQueryID, subPlanID, workerID uint64) (Command, error) {
	data, err := json.Marshal(removeSubPlanCmd{SharedQueryID: sharedQueryID, SubPlanID: subPlanID, WorkerID: workerID})
	if err != nil {
		return Command{}, fmt.Errorf("execplan fsm: marshal remove-sub-plan payload: %w", err)
	}
	return Command{Op: OpRemoveSubPlan, Data: data}, nil
}

// FSM implements the raft Finite State Machine for the global execution
// plan: every committed amendment (sub-plan add/remove) is applied here
// so every coordinator replica converges on the same placement.
type FSM struct {
	mu   sync.RWMutex
	plan *GlobalPlan
}

// NewFSM creates an FSM backed by plan.
func NewFSM(plan *GlobalPlan) *FSM {
	return &FSM{plan: plan}
}

// Apply applies a committed raft log entry to the global execution plan.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("execplan fsm: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpAddSubPlan:
		var c addSubPlanCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		f.plan.ExecutionNode(c.SubPlan.WorkerID).AddSubPlan(c.SubPlan)
		return nil

	case OpRemoveSubPlan:
		var c removeSubPlanCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		f.plan.ExecutionNode(c.WorkerID).RemoveSubPlan(c.SharedQueryID, c.SubPlanID)
		return nil

	default:
		return fmt.Errorf("execplan fsm: unknown command %q", cmd.Op)
	}
}

// Snapshot captures the current global plan for raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &fsmSnapshot{snapshot: f.plan.Snapshot()}, nil
}

// Restore replaces the FSM's state with a previously persisted snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("execplan fsm: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.plan.Restore(&snap)
	return nil
}

type fsmSnapshot struct {
	snapshot *Snapshot
}

// Persist writes the snapshot to the given raft sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		data, err := json.Marshal(s.snapshot)
		if err != nil {
			return err
		}
		_, err = sink.Write(data)
		return err
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is a no-op: the snapshot holds no external resources.
func (s *fsmSnapshot) Release() {}
