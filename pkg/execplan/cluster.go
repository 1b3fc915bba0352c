package execplan

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ClusterConfig configures a single coordinator replica's raft
// participation in the shared global execution plan.
type ClusterConfig struct {
	// NodeID uniquely identifies this coordinator replica within the
	// raft configuration.
	NodeID string
	// BindAddr is the host:port the raft transport listens and dials
	// peers on.
	BindAddr string
	// DataDir holds the raft log/stable BoltDB files and file
	// snapshots. Created if it does not already exist.
	DataDir string
}

// Cluster wraps a raft.Raft instance replicating a GlobalPlan across
// coordinator replicas, so every replica's placement view converges
// regardless of which one accepted a given amendment.
type Cluster struct {
	raft      *raft.Raft
	fsm       *FSM
	localAddr raft.ServerAddress
}

// LocalAddr returns the address the raft transport actually bound to.
// BindAddr of "host:0" resolves to an ephemeral port, so callers that
// need the real address for Bootstrap or for telling peers where to
// Join must read it back from here rather than from ClusterConfig.
func (c *Cluster) LocalAddr() raft.ServerAddress {
	return c.localAddr
}

// NewCluster starts raft participation for plan under cfg, but does not
// bootstrap a configuration — call Bootstrap on exactly one replica when
// standing up a fresh cluster, or Join on the others.
func NewCluster(cfg ClusterConfig, plan *GlobalPlan) (*Cluster, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("execplan cluster: create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("execplan cluster: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("execplan cluster: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("execplan cluster: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("execplan cluster: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("execplan cluster: create stable store: %w", err)
	}

	fsm := NewFSM(plan)
	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("execplan cluster: create raft: %w", err)
	}

	return &Cluster{raft: r, fsm: fsm, localAddr: transport.LocalAddr()}, nil
}

// Bootstrap forms a brand-new single-voter raft configuration with this
// replica as the only member. Subsequent replicas join via Join against
// the elected leader, the normal raft membership-change path.
func (c *Cluster) Bootstrap(nodeID string) error {
	future := c.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(nodeID), Address: c.localAddr},
		},
	})
	return future.Error()
}

// Join adds a new voter to the raft configuration. Must be called
// against the current leader.
func (c *Cluster) Join(nodeID, addr string) error {
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this replica currently holds raft leadership.
func (c *Cluster) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// Apply proposes cmd to the raft log, blocking until it commits (or
// timeout elapses). Only the leader can successfully apply; followers
// get raft.ErrNotLeader.
func (c *Cluster) Apply(cmd Command, timeout time.Duration) error {
	data, err := marshalCommand(cmd)
	if err != nil {
		return err
	}
	future := c.raft.Apply(data, timeout)
	return future.Error()
}

// Shutdown stops raft participation.
func (c *Cluster) Shutdown() error {
	return c.raft.Shutdown().Error()
}
