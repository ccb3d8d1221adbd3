// Package router decides which specialist handles a customer message.
package router

import (
	"context"
	"fmt"

	"github.com/orderguardian/internal/conversation"
)

// Strategy names the routing path that produced a decision.
type Strategy string

const (
	StrategyRules    Strategy = "rules"
	StrategyModel    Strategy = "model"
	StrategyFallback Strategy = "fallback"
)

// Input is everything a router may look at.
type Input struct {
	Message string
	History []conversation.Message
	Context conversation.Context
	OrderID string
}

// orderID returns the order referenced by the turn, if any.
func (in Input) orderID() string {
	if in.OrderID != "" {
		return in.OrderID
	}
	id, _ := in.Context.Text("order_id")
	return id
}

// Router produces a routing decision. It never fails: problems are reported
// through Decision.Fallback and Decision.Error.
type Router interface {
	Route(ctx context.Context, in Input) Decision
}

// Decision is produced fresh for each turn and never mutated.
type Decision struct {
	Agent          conversation.AgentID `json:"agent"`
	Confidence     float64              `json:"confidence"`
	Reasoning      string               `json:"reasoning,omitempty"`
	Params         Params               `json:"-"`
	Intent         string               `json:"intent,omitempty"`
	Strategy       Strategy             `json:"strategy"`
	Fallback       bool                 `json:"fallback,omitempty"`
	Error          string               `json:"error,omitempty"`
	DirectResponse string               `json:"direct_response,omitempty"`
}

// Specialist reports whether the decision dispatches to one of the four
// specialists.
func (d Decision) Specialist() bool { return d.Agent.IsSpecialist() }

// Params carries the typed parameters of a specialist selection. The set of
// implementations is closed.
type Params interface {
	Agent() conversation.AgentID
	params()
}

type MonitorParams struct {
	QueryType string `json:"query_type"` // status, location, delay, delivery_date
	OrderID   string `json:"order_id,omitempty"`
}

type VisualParams struct {
	IssueType    string `json:"issue_type"` // defect, wrong_item, damage, color_mismatch, quality_issue
	RequestImage bool   `json:"request_image"`
}

type ExchangeParams struct {
	ExchangeType     string `json:"exchange_type"` // size, color, style, similar_product
	CurrentProductID string `json:"current_product_id,omitempty"`
	Preference       string `json:"preference,omitempty"`
}

type ResolutionParams struct {
	ResolutionType string `json:"resolution_type"` // refund, return, compensation, policy_question, cancellation
	Urgency        string `json:"urgency,omitempty"`
}

func (MonitorParams) Agent() conversation.AgentID    { return conversation.AgentMonitor }
func (VisualParams) Agent() conversation.AgentID     { return conversation.AgentVisual }
func (ExchangeParams) Agent() conversation.AgentID   { return conversation.AgentExchange }
func (ResolutionParams) Agent() conversation.AgentID { return conversation.AgentResolution }

func (MonitorParams) params()    {}
func (VisualParams) params()     {}
func (ExchangeParams) params()   {}
func (ResolutionParams) params() {}

// paramsFromArgs builds the typed parameters for agent from decoded tool
// arguments. Missing fields keep their zero value.
func paramsFromArgs(agent conversation.AgentID, args map[string]any) (Params, error) {
	str := func(key string) string {
		s, _ := args[key].(string)
		return s
	}
	switch agent {
	case conversation.AgentMonitor:
		return MonitorParams{QueryType: str("query_type"), OrderID: str("order_id")}, nil
	case conversation.AgentVisual:
		b, _ := args["request_image"].(bool)
		return VisualParams{IssueType: str("issue_type"), RequestImage: b}, nil
	case conversation.AgentExchange:
		return ExchangeParams{
			ExchangeType:     str("exchange_type"),
			CurrentProductID: str("current_product_id"),
			Preference:       str("preference"),
		}, nil
	case conversation.AgentResolution:
		return ResolutionParams{ResolutionType: str("resolution_type"), Urgency: str("urgency")}, nil
	}
	return nil, fmt.Errorf("no parameters for agent %q", agent)
}
