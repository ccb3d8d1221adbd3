package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/router"
)

// Apology is sent when the controller cannot produce an answer.
const Apology = "I apologize, but I encountered an error. Please try again or let me connect you with a specialist."

const (
	greetingReply = "Hello! I'm here to help with your orders. I can check where a package is, look at a damaged item, set up an exchange or sort out a refund. What can I do for you?"
	fallbackReply = "I'm here to help! How can I assist you today? I can check an order's status, review a photo of a damaged item, arrange an exchange or process a refund."
	humanReply    = "Your conversation is with our support team now. A team member will reply here shortly."
	degradedReply = "I'm sorry, I ran into a problem handling that. Would you like me to connect you with a member of our support team?"
	turnLimitNote = "If you still need help, I can connect you with a member of our support team."
)

const responseSystemPrompt = `You are a helpful e-commerce customer support AI assistant.

Provide clear, friendly, and concise responses to customer questions.
Be empathetic and solution-focused.
If the question is complex or requires specific actions, suggest routing to a specialist.

Keep responses under 3 sentences for simple questions.`

// Controller answers messages no specialist handles.
type Controller struct {
	completer capability.Completer
	history   int
}

// NewController returns a controller. Without a completer it answers from
// templates.
func NewController(c capability.Completer, historyMessages int) *Controller {
	if historyMessages <= 0 {
		historyMessages = 4
	}
	return &Controller{completer: c, history: historyMessages}
}

// Respond always returns a non-empty reply.
func (c *Controller) Respond(ctx context.Context, d router.Decision, message string, history []conversation.Message) string {
	if strings.TrimSpace(d.DirectResponse) != "" {
		return d.DirectResponse
	}
	if d.Fallback {
		return Apology
	}
	if c == nil || c.completer == nil {
		return templateReply(message)
	}

	out, err := c.completer.Complete(ctx, capability.CompletionRequest{
		SystemPrompt: responseSystemPrompt,
		UserPrompt:   c.prompt(message, history),
		Temperature:  0.7,
		MaxTokens:    300,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Controller response failed")
		return Apology
	}
	if strings.TrimSpace(out.Text) == "" {
		return templateReply(message)
	}
	return out.Text
}

func (c *Controller) prompt(message string, history []conversation.Message) string {
	if len(history) > c.history {
		history = history[len(history)-c.history:]
	}
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Customer: ")
	b.WriteString(message)
	return b.String()
}

func templateReply(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))
	for _, g := range []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"} {
		if m == g || strings.HasPrefix(m, g+" ") || strings.HasPrefix(m, g+"!") || strings.HasPrefix(m, g+",") {
			return greetingReply
		}
	}
	return fallbackReply
}
