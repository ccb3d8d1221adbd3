package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/llm"
)

const systemPrompt = `You are the Controller Agent for an e-commerce post-purchase support system.

Route each customer request to the specialist best suited to handle it:

1. route_to_monitor: order tracking, delivery status, shipping delays, package location
2. route_to_visual: product defects, wrong items, quality issues that need an image
3. route_to_exchange: size changes, color swaps, alternatives and recommendations
4. route_to_resolution: refunds, returns, compensation, policy questions

When several issues are present route to the most critical one first.
If the request is a simple question you can answer yourself, reply directly
without selecting a specialist.`

// DefaultConfidence is used when the model omits a confidence value.
const DefaultConfidence = 0.8

// ModelOptions tunes the model-based router.
type ModelOptions struct {
	Temperature     float64 `koanf:"temperature"`
	MaxTokens       int     `koanf:"max_tokens"`
	HistoryMessages int     `koanf:"history_messages"`
	MaxContentChars int     `koanf:"max_content_chars"`
}

func DefaultModelOptions() ModelOptions {
	return ModelOptions{Temperature: 0.5, MaxTokens: 1500, HistoryMessages: 3, MaxContentChars: 200}
}

// ModelRouter asks the completion capability to select a specialist through
// function tools.
type ModelRouter struct {
	completer capability.Completer
	opts      ModelOptions
}

func NewModelRouter(c capability.Completer, opts ModelOptions) *ModelRouter {
	def := DefaultModelOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.HistoryMessages <= 0 {
		opts.HistoryMessages = def.HistoryMessages
	}
	if opts.MaxContentChars <= 0 {
		opts.MaxContentChars = def.MaxContentChars
	}
	return &ModelRouter{completer: c, opts: opts}
}

var toolAgents = map[string]conversation.AgentID{
	"route_to_monitor":    conversation.AgentMonitor,
	"route_to_visual":     conversation.AgentVisual,
	"route_to_exchange":   conversation.AgentExchange,
	"route_to_resolution": conversation.AgentResolution,
}

func (r *ModelRouter) Route(ctx context.Context, in Input) Decision {
	req := capability.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   r.buildPrompt(in),
		Tools:        RoutingTools(),
		Temperature:  r.opts.Temperature,
		MaxTokens:    r.opts.MaxTokens,
	}

	out, err := r.completer.Complete(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("Model routing failed, falling back to controller")
		return fallback(err)
	}

	if out.ToolCall == nil {
		return Decision{
			Agent:          conversation.AgentController,
			Confidence:     DefaultConfidence,
			Reasoning:      "Answered directly",
			Intent:         IntentGeneral,
			Strategy:       StrategyModel,
			DirectResponse: out.Text,
		}
	}

	agent, ok := toolAgents[out.ToolCall.Name]
	if !ok {
		return fallback(fmt.Errorf("model selected unknown tool %q", out.ToolCall.Name))
	}
	args, err := llm.DecodeArguments(out.ToolCall.Arguments)
	if err != nil {
		return fallback(fmt.Errorf("decode %s arguments: %w", out.ToolCall.Name, err))
	}
	params, err := paramsFromArgs(agent, args)
	if err != nil {
		return fallback(err)
	}
	if mp, isMonitor := params.(MonitorParams); isMonitor && mp.OrderID == "" {
		mp.OrderID = in.orderID()
		params = mp
	}

	confidence := DefaultConfidence
	if c, ok := args["confidence"].(float64); ok && c >= 0 && c <= 1 {
		confidence = c
	}
	reason, _ := args["reasoning"].(string)

	return Decision{
		Agent:      agent,
		Confidence: confidence,
		Reasoning:  reason,
		Params:     params,
		Intent:     intentFromParams(params),
		Strategy:   StrategyModel,
	}
}

func fallback(err error) Decision {
	return Decision{
		Agent:    conversation.AgentController,
		Strategy: StrategyFallback,
		Intent:   IntentGeneral,
		Fallback: true,
		Error:    err.Error(),
	}
}

func intentFromParams(p Params) string {
	switch v := p.(type) {
	case MonitorParams:
		return "order_status"
	case VisualParams:
		return "defect"
	case ExchangeParams:
		if v.ExchangeType == "size" {
			return "sizing"
		}
		return "exchange"
	case ResolutionParams:
		return "refund"
	}
	return IntentGeneral
}

func (r *ModelRouter) buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("=== CUSTOMER REQUEST ===\n")
	fmt.Fprintf(&b, "Message: %s\n\n=== CONTEXT ===\n", in.Message)

	if id := in.orderID(); id != "" {
		fmt.Fprintf(&b, "Order ID: %s\n", id)
	}
	for _, field := range []struct{ key, label string }{
		{"product_name", "Product"},
		{"customer_tier", "Customer Tier"},
		{"order_status", "Order Status"},
	} {
		if v, ok := in.Context.Text(field.key); ok {
			fmt.Fprintf(&b, "%s: %s\n", field.label, v)
		}
	}
	if in.Context.OrderValue > 0 {
		fmt.Fprintf(&b, "Order Value: %.2f\n", in.Context.OrderValue)
	}
	if in.Context.ImageUploaded {
		b.WriteString("Image Uploaded: yes\n")
	}

	if len(in.History) > 0 {
		b.WriteString("\n=== RECENT CONVERSATION ===\n")
		history := in.History
		if len(history) > r.opts.HistoryMessages {
			history = history[len(history)-r.opts.HistoryMessages:]
		}
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, truncate(m.Content, r.opts.MaxContentChars))
		}
	}

	b.WriteString("\n=== TASK ===\nDetermine which specialist should handle this request, or respond directly if appropriate.")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// RoutingTools returns the four specialist selection functions.
func RoutingTools() []capability.Tool {
	reasoning := map[string]any{"type": "string", "description": "Why this specialist was selected"}
	confidence := map[string]any{"type": "number", "description": "Confidence in routing decision (0-1)"}
	enum := func(desc string, values ...string) map[string]any {
		return map[string]any{"type": "string", "enum": values, "description": desc}
	}
	object := func(required []string, props map[string]any) map[string]any {
		props["reasoning"] = reasoning
		props["confidence"] = confidence
		return map[string]any{"type": "object", "properties": props, "required": required}
	}

	return []capability.Tool{
		{
			Name:        "route_to_monitor",
			Description: "Order tracking, shipping status, delivery updates and package location inquiries",
			Parameters: object([]string{"reasoning", "query_type"}, map[string]any{
				"order_id":   map[string]any{"type": "string", "description": "Order ID to track"},
				"query_type": enum("Type of tracking query", "status", "location", "delay", "delivery_date"),
			}),
		},
		{
			Name:        "route_to_visual",
			Description: "Product defects, wrong items and quality issues that require image analysis",
			Parameters: object([]string{"reasoning", "issue_type", "request_image"}, map[string]any{
				"issue_type":    enum("Type of visual verification needed", "defect", "wrong_item", "damage", "color_mismatch", "quality_issue"),
				"request_image": map[string]any{"type": "boolean", "description": "Whether to request an image upload"},
			}),
		},
		{
			Name:        "route_to_exchange",
			Description: "Size changes, color swaps, product alternatives and recommendations",
			Parameters: object([]string{"reasoning", "exchange_type"}, map[string]any{
				"exchange_type":      enum("Type of exchange requested", "size", "color", "style", "similar_product"),
				"current_product_id": map[string]any{"type": "string", "description": "ID of the current product"},
				"preference":         map[string]any{"type": "string", "description": "Customer's stated preference for the new item"},
			}),
		},
		{
			Name:        "route_to_resolution",
			Description: "Refunds, returns, compensation, policy questions and final resolution",
			Parameters: object([]string{"reasoning", "resolution_type"}, map[string]any{
				"resolution_type": enum("Type of resolution needed", "refund", "return", "compensation", "policy_question", "cancellation"),
				"urgency":         enum("Urgency level", "low", "medium", "high"),
			}),
		},
	}
}
