package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/agleyzer/hlsgrab/internal/session"
	"github.com/agleyzer/hlsgrab/internal/variant"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
)

// ErrNotLeader is returned for writes submitted to a follower.
var ErrNotLeader = errors.New("not the raft leader")

// Manager replicates session writes through a Raft cluster.
type Manager struct {
	config    Config
	raft      *raft.Raft
	fsm       *SessionFSM
	transport *raft.NetworkTransport
	logger    *slog.Logger
	mu        sync.RWMutex
	shutdown  bool
}

// NewManager creates a new cluster manager applying writes to store.
func NewManager(config Config, store *session.Store, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		config: config,
		fsm:    NewSessionFSM(store, logger),
		logger: logger,
	}, nil
}

// Start joins this replica to the session cluster. Every replica bootstraps
// with the same voter list, so whichever starts first forms the cluster and
// the rest find their configuration already committed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raft != nil {
		return fmt.Errorf("cluster already started")
	}

	addr, err := net.ResolveTCPAddr("tcp", m.config.BindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.config.BindAddr, addr, 3, 10*time.Second, nil)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	// sessions are short-lived, so neither the log nor snapshots outlive the process
	store := raft.NewInmemStore()
	r, err := raft.NewRaft(m.raftConfig(), m.fsm, store, store, raft.NewInmemSnapshotStore(), transport)
	if err != nil {
		transport.Close()
		return fmt.Errorf("create raft: %w", err)
	}
	m.raft, m.transport = r, transport

	if err := r.BootstrapCluster(m.voters()).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		m.logger.Warn("session cluster bootstrap failed, waiting to be contacted by peers", "error", err)
	}

	m.logger.Info("session replication started",
		"node_id", m.config.RaftID,
		"bind", m.config.BindAddr,
		"replicas", len(m.config.Peers))

	return nil
}

// raftConfig derives the Raft settings. Peers are addressed by their bind
// address, which therefore doubles as the server id.
func (m *Manager) raftConfig() *raft.Config {
	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(m.config.BindAddr)
	rc.HeartbeatTimeout = m.config.HeartbeatTimeout
	rc.ElectionTimeout = m.config.ElectionTimeout
	rc.LeaderLeaseTimeout = m.config.HeartbeatTimeout
	rc.SnapshotInterval = m.config.SnapshotInterval
	rc.SnapshotThreshold = m.config.SnapshotThreshold

	if m.config.LogRaft {
		rc.Logger = newHCLogger(slog.NewLogLogger(m.logger.Handler(), slog.LevelDebug), hclog.Debug)
	} else {
		rc.Logger = newNoOpHCLogger()
	}
	return rc
}

// voters lists every configured replica as a voting member.
func (m *Manager) voters() raft.Configuration {
	var c raft.Configuration
	for _, peer := range m.config.Peers {
		c.Servers = append(c.Servers, raft.Server{
			ID:       raft.ServerID(peer),
			Address:  raft.ServerAddress(peer),
			Suffrage: raft.Voter,
		})
	}
	return c
}

// Insert replicates a session insert. It implements session.Replicator.
func (m *Manager) Insert(key session.Key, set *variant.Set) error {
	return m.submit(Command{
		Type: CommandInsert,
		Data: InsertCommand{Session: SessionState{
			Chat:     key.Chat,
			Request:  key.Request,
			Variants: describe(set),
		}},
	})
}

// Remove replicates a session removal. It implements session.Replicator.
func (m *Manager) Remove(key session.Key) error {
	return m.submit(Command{
		Type: CommandRemove,
		Data: RemoveCommand{Chat: key.Chat, Request: key.Request},
	})
}

// submit applies cmd through the Raft log. Only the leader accepts writes.
func (m *Manager) submit(cmd Command) error {
	m.mu.RLock()
	r, closed := m.raft, m.shutdown
	m.mu.RUnlock()

	switch {
	case closed:
		return fmt.Errorf("cluster is shut down")
	case r == nil:
		return fmt.Errorf("cluster not started")
	}

	data, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	future := r.Apply(data, m.config.ApplyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return fmt.Errorf("%w: leader is %q", ErrNotLeader, m.LeaderAddr())
		}
		return fmt.Errorf("apply command: %w", err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return fmt.Errorf("apply command: %w", err)
	}

	return nil
}

// current returns the running Raft instance, or nil before Start.
func (m *Manager) current() *raft.Raft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.raft
}

// IsLeader reports whether this replica accepts session writes.
func (m *Manager) IsLeader() bool {
	r := m.current()
	return r != nil && r.State() == raft.Leader
}

// LeaderAddr returns the Raft address of the replica accepting writes, or ""
// while no leader is known.
func (m *Manager) LeaderAddr() string {
	r := m.current()
	if r == nil {
		return ""
	}
	addr, _ := r.LeaderWithID()
	return string(addr)
}

// State returns the replica's Raft role for /health: Leader, Follower,
// Candidate, Shutdown, or NotStarted.
func (m *Manager) State() string {
	r := m.current()
	if r == nil {
		return "NotStarted"
	}
	return r.State().String()
}

// NodeID returns this replica's configured id.
func (m *Manager) NodeID() string {
	return m.config.RaftID
}

// Shutdown leaves the cluster. Later writes fail; pending sessions stay
// readable in the local store.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil
	}
	m.shutdown = true

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return fmt.Errorf("close transport: %w", err)
		}
	}

	m.logger.Info("session replication stopped")
	return nil
}

// WaitForLeader blocks until some replica leads or ctx ends.
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for m.LeaderAddr() == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
