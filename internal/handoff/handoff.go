// Package handoff hands escalated conversations to the human support queue.
package handoff

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket is one escalated conversation waiting for a human agent.
type Ticket struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CustomerID     string    `json:"customer_id,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	Tier           int       `json:"tier"`
	Reason         string    `json:"reason"`
	TriggerID      string    `json:"trigger_id"`
	LastMessage    string    `json:"last_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewTicket fills in the id and creation time.
func NewTicket(conversationID string, tier int, reason, triggerID string, now time.Time) Ticket {
	return Ticket{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Tier:           tier,
		Reason:         reason,
		TriggerID:      triggerID,
		CreatedAt:      now,
	}
}

// Priority maps the escalation tier to a queue priority. River runs
// priority 1 first.
func (t Ticket) Priority() int {
	switch {
	case t.Tier >= 3:
		return 1
	case t.Tier == 2:
		return 2
	case t.Tier == 1:
		return 3
	}
	return 4
}

// Validate rejects tickets the queue cannot route.
func (t Ticket) Validate() error {
	if t.ID == "" {
		return errors.New("ticket id is required")
	}
	if t.ConversationID == "" {
		return errors.New("ticket conversation_id is required")
	}
	return nil
}

// Notifier delivers tickets to the human queue.
type Notifier interface {
	Notify(ctx context.Context, t Ticket) error
}

// MemoryNotifier keeps tickets in process. Used in development and tests.
type MemoryNotifier struct {
	mu      sync.Mutex
	tickets []Ticket
	err     error
}

func NewMemoryNotifier() *MemoryNotifier { return &MemoryNotifier{} }

func (n *MemoryNotifier) Notify(ctx context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.tickets = append(n.tickets, t)
	return nil
}

// FailWith makes subsequent Notify calls return err.
func (n *MemoryNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Tickets returns the delivered tickets in order.
func (n *MemoryNotifier) Tickets() []Ticket {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Ticket(nil), n.tickets...)
}
