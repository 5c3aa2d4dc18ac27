package state

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a process-local Store. It is used by tests and by the
// "memory" store driver.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[string]*ActorState
	saves   int
	saveErr error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*ActorState)}
}

func (m *MemoryStore) Load(_ context.Context, actorID string) (*ActorState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[actorID]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, actorID string, st *ActorState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: actor %s: %w", ErrPersistence, actorID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return fmt.Errorf("%w: actor %s: %w", ErrPersistence, actorID, m.saveErr)
	}
	m.states[actorID] = st.Clone()
	m.saves++
	return nil
}

// Put seeds state for actorID without counting as a save.
func (m *MemoryStore) Put(actorID string, st *ActorState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[actorID] = st.Clone()
}

// FailSaves makes every following Save fail with err; nil restores saving.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }
