package router

import (
	"context"

	"github.com/rs/zerolog/log"
)

// DefaultThreshold is the rule confidence at which the model is skipped.
const DefaultThreshold = 0.8

// HybridRouter tries the rules first and consults the model only when the
// rules are not confident enough.
type HybridRouter struct {
	rules     *RuleRouter
	model     Router
	threshold float64
}

// NewHybridRouter combines rules with model. A nil model makes it behave as
// the rule router.
func NewHybridRouter(rules *RuleRouter, model Router, threshold float64) *HybridRouter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if rules == nil {
		rules = NewRuleRouter()
	}
	return &HybridRouter{rules: rules, model: model, threshold: threshold}
}

func (h *HybridRouter) Route(ctx context.Context, in Input) Decision {
	ruled := h.rules.Decide(in)
	if h.model == nil || ruled.Confidence >= h.threshold {
		return ruled
	}

	decided := h.model.Route(ctx, in)
	if decided.Fallback && ruled.Specialist() {
		log.Debug().
			Str("error", decided.Error).
			Str("agent", string(ruled.Agent)).
			Msg("Model routing failed, using rule decision")
		ruled.Reasoning += " (model unavailable)"
		return ruled
	}
	return decided
}
