package router

import (
	"context"
	"strings"

	"github.com/orderguardian/internal/conversation"
)

// Intent is a category of the rule table.
type Intent struct {
	Name     string
	Agent    conversation.AgentID
	Keywords []string
}

// DefaultIntents is the keyword table. Order matters: on equal scores the
// earlier intent wins.
var DefaultIntents = []Intent{
	{Name: "order_status", Agent: conversation.AgentMonitor, Keywords: []string{"track", "status", "where is", "shipped", "delivery"}},
	{Name: "defect", Agent: conversation.AgentVisual, Keywords: []string{"defect", "broken", "damaged", "wrong item", "quality"}},
	{Name: "exchange", Agent: conversation.AgentExchange, Keywords: []string{"exchange", "different size", "different color", "swap"}},
	{Name: "refund", Agent: conversation.AgentResolution, Keywords: []string{"refund", "money back", "return", "cancel"}},
	{Name: "sizing", Agent: conversation.AgentExchange, Keywords: []string{"size", "fit", "too small", "too large", "too big"}},
}

const (
	IntentGeneral = "general_query"
	IntentVisual  = "visual_verification"
)

var reasoning = map[string]string{
	"order_status": "User asking about order tracking/status",
	"defect":       "User reporting product defect requiring verification",
	"exchange":     "User wants to exchange product",
	"sizing":       "User has sizing concerns",
	"refund":       "User requesting refund",
	IntentVisual:   "Image uploaded, visual verification needed",
	IntentGeneral:  "General question, controller can handle",
}

// intents whose confidence rises when the turn references an order
var orderBoosted = map[string]bool{"order_status": true, "refund": true, "exchange": true}

// RuleRouter is the keyword-overlap fast path. It makes no external calls
// and is deterministic for a given message and context.
type RuleRouter struct {
	intents []Intent
}

// NewRuleRouter returns a router over intents, or DefaultIntents when none
// are given.
func NewRuleRouter(intents ...Intent) *RuleRouter {
	if len(intents) == 0 {
		intents = DefaultIntents
	}
	table := make([]Intent, len(intents))
	for i, it := range intents {
		table[i] = Intent{Name: it.Name, Agent: it.Agent, Keywords: make([]string, len(it.Keywords))}
		for j, kw := range it.Keywords {
			table[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return &RuleRouter{intents: table}
}

func (r *RuleRouter) Route(_ context.Context, in Input) Decision {
	return r.Decide(in)
}

// Decide is Route without a context.
func (r *RuleRouter) Decide(in Input) Decision {
	intent, matches := r.detect(in)

	d := Decision{
		Agent:      conversation.AgentController,
		Intent:     IntentGeneral,
		Strategy:   StrategyRules,
		Confidence: confidenceFor(matches),
	}

	switch {
	case in.Context.ImageUploaded:
		d.Intent = IntentVisual
		d.Agent = conversation.AgentVisual
		d.Confidence = confidenceFor(0)
	case intent != nil:
		d.Intent = intent.Name
		d.Agent = intent.Agent
		if orderBoosted[intent.Name] && in.orderID() != "" {
			d.Confidence += 0.1
		}
	}
	d.Reasoning = reasoningFor(d.Intent, d.Agent)
	if in.Context.RequiresApproval {
		d.Agent = conversation.AgentResolution
		d.Reasoning = "Pending approval, resolution owns the request"
	}
	if d.Confidence > 1.0 {
		d.Confidence = 1.0
	}

	d.Params = defaultParams(d.Intent, d.Agent, in)
	return d
}

// detect returns the highest scoring intent and its match count. Ties go to
// the intent declared first.
func (r *RuleRouter) detect(in Input) (*Intent, int) {
	msg := strings.ToLower(in.Message)
	var best *Intent
	bestScore := 0
	for i := range r.intents {
		score := 0
		for _, kw := range r.intents[i].Keywords {
			if strings.Contains(msg, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = &r.intents[i], score
		}
	}
	return best, bestScore
}

func confidenceFor(matches int) float64 {
	switch {
	case matches >= 2:
		return 0.9
	case matches == 1:
		return 0.75
	}
	return 0.7
}

func reasoningFor(intent string, agent conversation.AgentID) string {
	if r, ok := reasoning[intent]; ok {
		return r
	}
	return "Routing " + intent + " to " + string(agent)
}

// defaultParams derives parameters for a rule decision so specialists get
// the same typed input as from the model path.
func defaultParams(intent string, agent conversation.AgentID, in Input) Params {
	switch agent {
	case conversation.AgentMonitor:
		return MonitorParams{QueryType: "status", OrderID: in.orderID()}
	case conversation.AgentVisual:
		issue := "defect"
		if strings.Contains(strings.ToLower(in.Message), "wrong item") {
			issue = "wrong_item"
		}
		return VisualParams{IssueType: issue, RequestImage: !in.Context.ImageUploaded}
	case conversation.AgentExchange:
		kind := "size"
		if strings.Contains(strings.ToLower(in.Message), "color") {
			kind = "color"
		}
		return ExchangeParams{ExchangeType: kind}
	case conversation.AgentResolution:
		kind := "refund"
		msg := strings.ToLower(in.Message)
		if strings.Contains(msg, "cancel") {
			kind = "cancellation"
		} else if strings.Contains(msg, "return") && !strings.Contains(msg, "refund") {
			kind = "return"
		}
		return ResolutionParams{ResolutionType: kind, Urgency: "medium"}
	}
	return nil
}
