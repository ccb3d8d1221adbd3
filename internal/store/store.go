package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/orderguardian/internal/conversation"
)

// ErrNotFound is returned when no state exists for a conversation id.
var ErrNotFound = errors.New("conversation not found")

// ErrCorrupt is returned when a stored state no longer decodes or validates.
var ErrCorrupt = errors.New("stored conversation state is corrupt")

func decodeState(id string, data []byte) (*conversation.State, error) {
	st, err := conversation.Import(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return st, nil
}

// StateStore persists one conversation state per id.
type StateStore interface {
	Load(ctx context.Context, id string) (*conversation.State, error)
	Save(ctx context.Context, id string, state *conversation.State) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a threadsafe in-memory store for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*conversation.State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*conversation.State)}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*conversation.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, id string, state *conversation.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil {
		return errors.New("nil state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[id]; !ok {
		return ErrNotFound
	}
	delete(s.states, id)
	return nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
