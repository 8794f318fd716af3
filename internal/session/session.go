// Package session keeps resolved variant sets between the discovery reply and
// the user's selection.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/agleyzer/hlsgrab/internal/variant"
	"github.com/google/uuid"
)

// ErrMalformedKey is returned by ParseKey for keys that are not
// "{requestId} {index}".
var ErrMalformedKey = errors.New("malformed selection key")

// Key identifies one pending request of one conversation.
type Key struct {
	Chat    string
	Request string
}

func (k Key) String() string {
	return k.Chat + "/" + k.Request
}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// FormatKey builds the selection key handed to the user for variant index.
func FormatKey(requestID string, index int) string {
	return requestID + " " + strconv.Itoa(index)
}

// ParseKey splits a selection key on its first space.
func ParseKey(s string) (string, int, error) {
	id, idx, ok := strings.Cut(s, " ")
	if !ok || id == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	return id, n, nil
}

// Replicator routes store writes through a replicated log. Implementations
// must eventually call Put or Delete on every replica, this one included.
type Replicator interface {
	Insert(key Key, set *variant.Set) error
	Remove(key Key) error
}

// Store maps (chat, request) to a resolved variant set.
type Store struct {
	mu         sync.RWMutex
	sessions   map[Key]*variant.Set
	replicator Replicator
	logger     *slog.Logger
}

// NewStore creates an empty store that applies writes locally.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		sessions: make(map[Key]*variant.Set),
		logger:   logger,
	}
}

// SetReplicator makes Insert and Remove go through r.
func (s *Store) SetReplicator(r Replicator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicator = r
}

// Insert stores set under key, replacing any previous entry.
func (s *Store) Insert(key Key, set *variant.Set) error {
	if r := s.getReplicator(); r != nil {
		return r.Insert(key, set)
	}
	s.Put(key, set)
	return nil
}

// Remove discards the entry under key. Removing a missing key is not an error.
func (s *Store) Remove(key Key) error {
	if r := s.getReplicator(); r != nil {
		return r.Remove(key)
	}
	s.Delete(key)
	return nil
}

func (s *Store) getReplicator() Replicator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replicator
}

// Get returns the set stored under key.
func (s *Store) Get(key Key) (*variant.Set, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sessions[key]
	return set, ok
}

// Len returns the number of pending sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Put applies an insert locally.
func (s *Store) Put(key Key, set *variant.Set) {
	s.mu.Lock()
	s.sessions[key] = set
	s.mu.Unlock()
	s.logger.Debug("session stored", "key", key.String(), "variants", set.Len())
}

// Delete applies a remove locally.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
	s.logger.Debug("session removed", "key", key.String())
}

// Entries returns a copy of the current mapping.
func (s *Store) Entries() map[Key]*variant.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]*variant.Set, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return out
}

// Reset replaces the whole mapping.
func (s *Store) Reset(entries map[Key]*variant.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[Key]*variant.Set, len(entries))
	for k, v := range entries {
		s.sessions[k] = v
	}
}
