package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State is the record kept for one active conversation.
type State struct {
	ConversationID string     `json:"conversation_id"`
	CustomerID     string     `json:"customer_id,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	Messages       []Message  `json:"messages"`
	CurrentAgent   AgentID    `json:"current_agent"`
	Context        Context    `json:"context"`
	NextAction     NextAction `json:"next_action,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// New creates the initial state of a conversation.
func New(conversationID, customerID, orderID string, now time.Time) *State {
	return &State{
		ConversationID: conversationID,
		CustomerID:     customerID,
		OrderID:        orderID,
		Messages:       []Message{},
		CurrentAgent:   AgentController,
		Context:        NewContext(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AppendUser records a customer message. It does not count as a turn.
func (s *State) AppendUser(content string, now time.Time) {
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: content, Timestamp: now})
	s.UpdatedAt = now
}

// AppendAssistant records the output of one processing step and advances the
// turn counter.
func (s *State) AppendAssistant(content string, agent AgentID, now time.Time) {
	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: content, Timestamp: now, AgentType: agent})
	s.Context.TurnCount++
	s.UpdatedAt = now
}

// AppendSystem records an operator note. It does not count as a turn.
func (s *State) AppendSystem(content string, now time.Time) {
	s.Messages = append(s.Messages, Message{Role: RoleSystem, Content: content, Timestamp: now})
	s.UpdatedAt = now
}

// SetNextAction stores a validated next action.
func (s *State) SetNextAction(action NextAction) error {
	if err := action.Validate(); err != nil {
		return err
	}
	s.NextAction = action
	return nil
}

// SetCurrentAgent changes the owner of the conversation.
func (s *State) SetCurrentAgent(agent AgentID) error {
	if !agent.Valid() {
		return fmt.Errorf("unknown agent %q", agent)
	}
	s.CurrentAgent = agent
	return nil
}

// Recent returns the last n messages, or all of them when n <= 0.
func (s *State) Recent(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return append([]Message(nil), s.Messages...)
	}
	return append([]Message(nil), s.Messages[len(s.Messages)-n:]...)
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	out.Context = s.Context.Clone()
	return &out
}

// Validate checks the invariants a stored state must satisfy.
func (s *State) Validate() error {
	if s.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if !s.CurrentAgent.Valid() {
		return fmt.Errorf("unknown current_agent %q", s.CurrentAgent)
	}
	if err := s.NextAction.Validate(); err != nil {
		return err
	}
	if s.Context.TurnCount < 0 {
		return errors.New("turn_count must not be negative")
	}
	for i, m := range s.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}

// Export serializes s as JSON.
func (s *State) Export() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ErrMalformedState is returned by Import for undecodable or invalid input.
var ErrMalformedState = errors.New("malformed conversation state")

// Import parses and validates a state produced by Export.
func Import(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.Context.IssuesDetected == nil {
		s.Context.IssuesDetected = []string{}
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}
	return &s, nil
}
