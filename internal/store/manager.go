package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderguardian/internal/conversation"
)

// ErrExists is returned when importing over an existing conversation.
var ErrExists = errors.New("conversation already exists")

// Manager offers conversation-level operations on top of a StateStore.
// Writes take the per-conversation lock, so a turn holding the same
// Locker never races a clear or an import.
type Manager struct {
	store StateStore
	locks *KeyedLocker
	now   func() time.Time
}

func NewManager(s StateStore) *Manager {
	return &Manager{store: s, locks: NewKeyedLocker(), now: time.Now}
}

// Store returns the underlying store.
func (m *Manager) Store() StateStore { return m.store }

// Locker returns the per-conversation lock shared with turn processing.
func (m *Manager) Locker() *KeyedLocker { return m.locks }

// Get loads a conversation.
func (m *Manager) Get(ctx context.Context, id string) (*conversation.State, error) {
	return m.store.Load(ctx, id)
}

// GetOrCreate loads a conversation or builds a fresh, unsaved one.
func (m *Manager) GetOrCreate(ctx context.Context, id, customerID, orderID string) (*conversation.State, bool, error) {
	st, err := m.store.Load(ctx, id)
	if err == nil {
		return st, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	return conversation.New(id, customerID, orderID, m.now()), true, nil
}

// Messages returns the last n messages of a conversation, all when n <= 0.
func (m *Manager) Messages(ctx context.Context, id string, n int) ([]conversation.Message, error) {
	st, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Recent(n), nil
}

// Clear removes a conversation.
func (m *Manager) Clear(ctx context.Context, id string) error {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return m.store.Delete(ctx, id)
}

// Export returns the JSON form of a conversation.
func (m *Manager) Export(ctx context.Context, id string) ([]byte, error) {
	st, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Export()
}

// Import stores an exported conversation. Without overwrite an existing
// conversation with the same id is left untouched.
func (m *Manager) Import(ctx context.Context, data []byte, overwrite bool) (*conversation.State, error) {
	st, err := conversation.Import(data)
	if err != nil {
		return nil, err
	}
	unlock, err := m.locks.Lock(ctx, st.ConversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !overwrite {
		_, err := m.store.Load(ctx, st.ConversationID)
		if err == nil {
			return nil, fmt.Errorf("%w: %s", ErrExists, st.ConversationID)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if err := m.store.Save(ctx, st.ConversationID, st); err != nil {
		return nil, err
	}
	return st, nil
}
