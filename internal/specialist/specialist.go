// Package specialist holds the uniform contract the orchestrator dispatches
// through and the four domain handlers behind it.
package specialist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/router"
)

// ErrOrderNotFound is returned by OrderLookup for unknown orders.
var ErrOrderNotFound = errors.New("order not found")

// Request is the input of a specialist call.
type Request struct {
	ConversationID string
	Message        string
	Params         router.Params // nil on a follow-up hop
	Trigger        string        // signal of the previous specialist on a follow-up hop
	Context        conversation.Context
	Image          []byte
	Now            time.Time
}

// Outcome is the result of a specialist call. Only Success, Terminal and
// RequiresFollowup drive the conversation; the rest is carried along.
type Outcome struct {
	Success          bool                 `json:"success"`
	Message          string               `json:"message"`
	RequiresFollowup conversation.AgentID `json:"requires_followup,omitempty"`
	Terminal         bool                 `json:"terminal"`
	Signal           string               `json:"signal,omitempty"`
	Details          map[string]any       `json:"details,omitempty"`
	// Context is merged into the conversation context.
	Context map[string]any `json:"context,omitempty"`
}

// Adapter is implemented by every specialist.
type Adapter interface {
	Handle(ctx context.Context, order Order, req Request) (Outcome, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, order Order, req Request) (Outcome, error)

func (f AdapterFunc) Handle(ctx context.Context, order Order, req Request) (Outcome, error) {
	return f(ctx, order, req)
}

// Registry maps specialist ids to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[conversation.AgentID]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[conversation.AgentID]Adapter)}
}

// Register binds a to id. Only the four specialists may be registered.
func (r *Registry) Register(id conversation.AgentID, a Adapter) error {
	if !id.IsSpecialist() {
		return fmt.Errorf("cannot register adapter for %q: not a specialist", id)
	}
	if a == nil {
		return fmt.Errorf("nil adapter for %q", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = a
	return nil
}

func (r *Registry) Lookup(id conversation.AgentID) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// IDs lists the registered specialists in sorted order.
func (r *Registry) IDs() []conversation.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]conversation.AgentID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// followup derives the next specialist for agent's signal, if any.
func followup(agent conversation.AgentID, signal string) conversation.AgentID {
	next, ok := router.Next(agent, signal).Agent()
	if !ok {
		return ""
	}
	return next
}

const askOrderNumber = "I'd be happy to help with that. Could you share your order number so I can look it up?"

func missingOrder() Outcome {
	return Outcome{Success: false, Message: askOrderNumber, Terminal: true, Details: map[string]any{"action": "request_order_id"}}
}
