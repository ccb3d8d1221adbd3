package conversation

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one entry of the transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AgentType AgentID   `json:"agent_type,omitempty"`
}

// AgentID names the component responsible for a conversation.
type AgentID string

const (
	AgentController AgentID = "controller"
	AgentMonitor    AgentID = "monitor"
	AgentVisual     AgentID = "visual"
	AgentExchange   AgentID = "exchange"
	AgentResolution AgentID = "resolution"

	// AgentHuman marks a conversation handed off to a human agent.
	AgentHuman AgentID = "human"
)

// Specialists returns the four specialist ids in declaration order.
func Specialists() []AgentID {
	return []AgentID{AgentMonitor, AgentVisual, AgentExchange, AgentResolution}
}

// IsSpecialist reports whether a is one of the four specialists.
func (a AgentID) IsSpecialist() bool {
	switch a {
	case AgentMonitor, AgentVisual, AgentExchange, AgentResolution:
		return true
	}
	return false
}

// Valid reports whether a can own a conversation.
func (a AgentID) Valid() bool {
	return a == AgentController || a == AgentHuman || a.IsSpecialist()
}

// NextAction is the pending routing decision of a conversation.
type NextAction string

const (
	NoAction    NextAction = ""
	ActionEnd   NextAction = "end"
	ActionHuman NextAction = "human"
)

// ErrInvalidNextAction is returned for a next action that is neither unset,
// a specialist id nor a terminal sentinel.
var ErrInvalidNextAction = errors.New("invalid next action")

// ActionFor returns the next action that dispatches to a specialist.
func ActionFor(agent AgentID) (NextAction, error) {
	if !agent.IsSpecialist() {
		return NoAction, fmt.Errorf("%w: %q is not a specialist", ErrInvalidNextAction, agent)
	}
	return NextAction(agent), nil
}

// Validate checks that a is unset, a specialist id or a terminal sentinel.
func (a NextAction) Validate() error {
	switch {
	case a == NoAction, a == ActionEnd, a == ActionHuman:
		return nil
	case AgentID(a).IsSpecialist():
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidNextAction, string(a))
}

// Terminal reports whether a ends automated processing.
func (a NextAction) Terminal() bool {
	return a == ActionEnd || a == ActionHuman
}

// Agent returns the specialist a dispatches to, if any.
func (a NextAction) Agent() (AgentID, bool) {
	id := AgentID(a)
	return id, id.IsSpecialist()
}
