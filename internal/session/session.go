// Package session owns the per-conversation continuation state that the
// completion model hands back with every answer. Callers that send no session
// id share one default slot.
package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/54b3r/lawbot-go/internal/completion"
)

// DefaultID is the slot used when a request carries no session id.
const DefaultID = "default"

// Store persists continuation state by session id.
// Implementations must be safe to call from multiple goroutines.
type Store interface {
	// Load returns the state saved for id, or nil when there is none.
	Load(ctx context.Context, id string) (completion.State, error)
	// Save replaces the state for id.
	Save(ctx context.Context, id string, state completion.State) error
}

// Tracker reads and writes continuation state for the orchestrator. Concurrent
// requests in the same session may interleave; the last Save wins.
type Tracker struct {
	store Store
}

// NewTracker returns a Tracker over s. A nil s uses a fresh MemoryStore.
func NewTracker(s Store) *Tracker {
	if s == nil {
		s = NewMemoryStore()
	}
	return &Tracker{store: s}
}

// ID normalises a caller-supplied session id.
func ID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return DefaultID
	}
	return id
}

// State returns the current state for the session.
func (t *Tracker) State(ctx context.Context, id string) (completion.State, error) {
	st, err := t.store.Load(ctx, ID(id))
	if err != nil {
		return nil, fmt.Errorf("session: load %q: %w", ID(id), err)
	}
	return st, nil
}

// Update records the state returned by the latest completion. An empty state
// leaves the stored value untouched.
func (t *Tracker) Update(ctx context.Context, id string, state completion.State) error {
	if len(state) == 0 {
		return nil
	}
	if err := t.store.Save(ctx, ID(id), state); err != nil {
		return fmt.Errorf("session: save %q: %w", ID(id), err)
	}
	return nil
}

// MemoryStore is an in-process Store. State does not survive restarts.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]completion.State
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]completion.State)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id string) (completion.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(st), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, id string, state completion.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = bytes.Clone(state)
	return nil
}

// Len reports how many sessions hold state.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
