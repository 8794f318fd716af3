// Package cluster replicates session-store writes across front-end replicas
// with Raft.
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"

	"github.com/agleyzer/hlsgrab/internal/session"
	"github.com/agleyzer/hlsgrab/internal/variant"
	"github.com/hashicorp/raft"
)

func init() {
	// Register types for gob encoding/decoding
	gob.Register(InsertCommand{})
	gob.Register(RemoveCommand{})
}

// VariantDescriptor is the replicated form of a variant. Stream data is never
// replicated; each replica fetches it on download.
type VariantDescriptor struct {
	Width    int
	Height   int
	VideoURL string
	AudioURL string
}

// SessionState is one replicated session.
type SessionState struct {
	Chat     string
	Request  string
	Variants []VariantDescriptor
}

// CommandType identifies the type of Raft command.
type CommandType uint8

const (
	// CommandInsert stores a session.
	CommandInsert CommandType = 1
	// CommandRemove discards a session.
	CommandRemove CommandType = 2
)

// Command represents a Raft log command.
type Command struct {
	Type CommandType
	Data any
}

// InsertCommand stores a session on every replica.
type InsertCommand struct {
	Session SessionState
}

// RemoveCommand discards a session on every replica.
type RemoveCommand struct {
	Chat    string
	Request string
}

// describe converts a set into its replicated form, preserving order.
func describe(set *variant.Set) []VariantDescriptor {
	out := make([]VariantDescriptor, 0, set.Len())
	for _, v := range set.Variants {
		out = append(out, VariantDescriptor{
			Width:    v.Resolution.Width,
			Height:   v.Resolution.Height,
			VideoURL: v.VideoURL,
			AudioURL: v.AudioURL,
		})
	}
	return out
}

// materialize rebuilds a set from descriptors. The order is kept as
// replicated so selection indexes agree across replicas.
func materialize(descs []VariantDescriptor) *variant.Set {
	variants := make([]*variant.Variant, 0, len(descs))
	for _, d := range descs {
		variants = append(variants, &variant.Variant{
			Resolution: variant.Resolution{Width: d.Width, Height: d.Height},
			VideoURL:   d.VideoURL,
			AudioURL:   d.AudioURL,
		})
	}
	return &variant.Set{Variants: variants}
}

// SessionFSM implements raft.FSM by applying commands to a session.Store.
type SessionFSM struct {
	store  *session.Store
	logger *slog.Logger
}

// NewSessionFSM creates a new SessionFSM.
func NewSessionFSM(store *session.Store, logger *slog.Logger) *SessionFSM {
	return &SessionFSM{
		store:  store,
		logger: logger,
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *SessionFSM) Apply(log *raft.Log) any {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(log.Data)).Decode(&cmd); err != nil {
		f.logger.Error("failed to decode command", "error", err)
		return fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Type {
	case CommandInsert:
		ins, ok := cmd.Data.(InsertCommand)
		if !ok {
			return fmt.Errorf("invalid insert command data")
		}
		key := session.Key{Chat: ins.Session.Chat, Request: ins.Session.Request}
		f.store.Put(key, materialize(ins.Session.Variants))
		return nil
	case CommandRemove:
		rm, ok := cmd.Data.(RemoveCommand)
		if !ok {
			return fmt.Errorf("invalid remove command data")
		}
		f.store.Delete(session.Key{Chat: rm.Chat, Request: rm.Request})
		return nil
	default:
		f.logger.Error("unknown command type", "type", cmd.Type)
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

// Snapshot returns an FSMSnapshot for creating a point-in-time snapshot.
func (f *SessionFSM) Snapshot() (raft.FSMSnapshot, error) {
	entries := f.store.Entries()
	states := make([]SessionState, 0, len(entries))
	for k, set := range entries {
		states = append(states, SessionState{
			Chat:     k.Chat,
			Request:  k.Request,
			Variants: describe(set),
		})
	}
	return &fsmSnapshot{sessions: states}, nil
}

// Restore restores the FSM state from a snapshot.
func (f *SessionFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var states []SessionState
	if err := gob.NewDecoder(snapshot).Decode(&states); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	entries := make(map[session.Key]*variant.Set, len(states))
	for _, s := range states {
		entries[session.Key{Chat: s.Chat, Request: s.Request}] = materialize(s.Variants)
	}
	f.store.Reset(entries)

	f.logger.Info("restored sessions from snapshot", "sessions", len(states))
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	sessions []SessionState
}

// Persist writes the snapshot to the given sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.sessions); err != nil {
		sink.Cancel()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, err := sink.Write(buf.Bytes()); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}

	return sink.Close()
}

// Release releases any resources held by the snapshot.
func (s *fsmSnapshot) Release() {}

// EncodeCommand encodes a command for Raft submission.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}
