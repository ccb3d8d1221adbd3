package specialist

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/router"
)

// Refund reasons.
const (
	ReasonDefective   = "defective_product"
	ReasonWrongItem   = "wrong_item_sent"
	ReasonMinorDefect = "minor_defect"
	ReasonMissingPart = "missing_accessories"
	ReasonChangedMind = "changed_mind"
	ReasonOutOfStock  = "out_of_stock"
)

// NonRefundable names a category that is excluded from refunds unless the
// reason is one of the exceptions.
type NonRefundable struct {
	Category   string   `koanf:"category"`
	Reason     string   `koanf:"reason"`
	Exceptions []string `koanf:"exceptions"`
}

// RefundPolicy holds the refund rules.
type RefundPolicy struct {
	WindowDays          int             `koanf:"window_days"`
	AutoApproveLimit    float64         `koanf:"auto_approve_limit"`
	PartialPercentage   float64         `koanf:"partial_percentage"`
	StoreCreditBonus    *float64        `koanf:"store_credit_bonus"` // nil means the default; 0 disables the bonus
	NonRefundable       []NonRefundable `koanf:"non_refundable"`
	ShippingRefundedFor []string        `koanf:"shipping_refunded_for"`
}

func DefaultRefundPolicy() RefundPolicy {
	bonus := 0.10
	return RefundPolicy{
		WindowDays:        30,
		AutoApproveLimit:  50,
		PartialPercentage: 0.5,
		StoreCreditBonus:  &bonus,
		NonRefundable: []NonRefundable{
			{Category: "Gift Card", Reason: "Gift cards are non-refundable"},
			{Category: "Personalized", Reason: "Personalized items are made to order", Exceptions: []string{ReasonDefective, ReasonWrongItem}},
			{Category: "Final Sale", Reason: "Final sale items are non-refundable", Exceptions: []string{ReasonDefective, ReasonWrongItem}},
		},
		ShippingRefundedFor: []string{ReasonDefective, ReasonWrongItem, ReasonOutOfStock},
	}
}

// Resolution processes refunds, compensation and policy questions.
type Resolution struct {
	policy      RefundPolicy
	creditBonus float64
	completer   capability.Completer
}

// NewResolution returns the resolution specialist. The completer is only
// used for free-form policy questions and may be nil.
func NewResolution(policy RefundPolicy, c capability.Completer) *Resolution {
	def := DefaultRefundPolicy()
	if policy.WindowDays <= 0 {
		policy.WindowDays = def.WindowDays
	}
	if policy.AutoApproveLimit <= 0 {
		policy.AutoApproveLimit = def.AutoApproveLimit
	}
	if policy.PartialPercentage <= 0 || policy.PartialPercentage > 1 {
		policy.PartialPercentage = def.PartialPercentage
	}
	if policy.StoreCreditBonus == nil || *policy.StoreCreditBonus < 0 {
		policy.StoreCreditBonus = def.StoreCreditBonus
	}
	if policy.NonRefundable == nil {
		policy.NonRefundable = def.NonRefundable
	}
	if policy.ShippingRefundedFor == nil {
		policy.ShippingRefundedFor = def.ShippingRefundedFor
	}
	return &Resolution{policy: policy, creditBonus: *policy.StoreCreditBonus, completer: c}
}

func (r *Resolution) Handle(ctx context.Context, order Order, req Request) (Outcome, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	p, _ := req.Params.(router.ResolutionParams)

	switch {
	case req.Trigger == router.SignalDelayDetected || req.Trigger == router.SignalIssueFound:
		return r.compensate("delay", "medium", req), nil
	case req.Trigger == router.SignalDefectConfirmed:
		return r.compensate("defect", severityFromContext(req, "medium"), req), nil
	case p.ResolutionType == "compensation":
		return r.compensate("delay", "medium", req), nil
	case p.ResolutionType == "policy_question":
		return r.answerPolicy(ctx, req), nil
	}

	if !order.Found() {
		return missingOrder(), nil
	}
	if req.Context.RequiresApproval {
		return Outcome{
			Success: true,
			Message: "Your refund is still with a manager for approval. You'll get an email as soon as it's approved, usually within 2 hours.",
			Details: map[string]any{"action": "approval_pending"},
		}, nil
	}

	reason := refundReason(req)
	if req.Trigger == router.SignalOutOfStock {
		reason = ReasonOutOfStock
	}
	return r.refund(order, reason, req, now), nil
}

func (r *Resolution) refund(order Order, reason string, req Request, now time.Time) Outcome {
	special := reason == ReasonDefective || reason == ReasonWrongItem

	if order.Status == "cancelled" {
		return Outcome{
			Success:  false,
			Message:  "This order has already been cancelled. If you were charged, the refund is already processing.",
			Terminal: true,
			Details:  map[string]any{"reason": "order_cancelled"},
		}
	}

	if !order.OrderDate.IsZero() && !special {
		days := int(now.Sub(order.OrderDate).Hours() / 24)
		if days > r.policy.WindowDays {
			credit := round2(order.Total * (1 + r.creditBonus))
			return Outcome{
				Success: false,
				Message: fmt.Sprintf("I'm sorry, but the refund window of %d days has passed. I can offer you $%.2f in store credit instead, which includes a %.0f%% bonus.",
					r.policy.WindowDays, credit, r.creditBonus*100),
				Terminal: true,
				Details: map[string]any{
					"reason":      "refund_window_expired",
					"alternative": map[string]any{"type": "store_credit", "amount": credit},
				},
			}
		}
	}

	for _, nr := range r.policy.NonRefundable {
		if nr.Category == "" || !strings.Contains(strings.ToLower(order.Category), strings.ToLower(nr.Category)) {
			continue
		}
		if containsString(nr.Exceptions, reason) {
			continue
		}
		return Outcome{
			Success:  false,
			Message:  fmt.Sprintf("I'm sorry, but %s items are non-refundable per our policy. I'd be glad to help you find an exchange instead!", order.Category),
			Terminal: true,
			Details:  map[string]any{"reason": orDefault(nr.Reason, "non_refundable")},
		}
	}

	refundType := "full_refund"
	amount := order.Total
	switch {
	case reason == ReasonMinorDefect || reason == ReasonMissingPart:
		refundType = "partial_refund"
		amount = order.Total * r.policy.PartialPercentage
	case !containsString(r.policy.ShippingRefundedFor, reason):
		amount = order.Total - order.ShippingCost
	}
	amount = round2(amount)

	if amount > r.policy.AutoApproveLimit {
		return Outcome{
			Success: true,
			Message: fmt.Sprintf("Your refund of $%.2f requires manager approval. I've submitted it for immediate review, typically within 2 hours.", amount),
			Signal:  "approval_pending",
			Details: map[string]any{"refund_amount": amount, "refund_type": refundType, "estimated_approval_time": "2 hours"},
			Context: map[string]any{"requires_approval": true},
		}
	}

	method, _ := req.Context.Text("refund_method")
	if method == "" {
		method = "original_payment_method"
	}
	final, bonus := amount, 0.0
	reference := "REF" + now.Format("20060102") + strings.ToUpper(uuid.NewString()[:6])

	var msg string
	switch method {
	case "store_credit":
		bonus = round2(amount * r.creditBonus)
		final = round2(amount + bonus)
		msg = fmt.Sprintf("Done! I've added $%.2f in store credit to your account ($%.2f + $%.2f bonus). It's available to use immediately!", final, amount, bonus)
	default:
		msg = fmt.Sprintf("Refund processed! $%.2f will be refunded to your %s within 5-7 business days.", final, orDefault(order.PaymentMethod, "original payment method"))
	}
	msg += "\n\nReference: " + reference

	log.Info().
		Str("order_id", order.OrderID).
		Float64("amount", final).
		Str("reason", reason).
		Str("reference", reference).
		Msg("Refund processed")

	return Outcome{
		Success:  true,
		Message:  msg,
		Terminal: true,
		Signal:   router.SignalRefundProcessed,
		Details: map[string]any{
			"refund_amount":    final,
			"bonus_amount":     bonus,
			"refund_type":      refundType,
			"refund_method":    method,
			"reference_number": reference,
			"reason":           reason,
		},
	}
}

var compensationMatrix = map[string]map[string][2]string{
	"delay": {
		"low":    {"discount_code", "5% off your next order"},
		"medium": {"shipping_refund_and_discount", "a shipping refund plus 15% off your next order"},
		"high":   {"full_refund_option", "a full refund or a free replacement"},
	},
	"defect": {
		"low":    {"partial_refund", "a 20% refund if you keep the item"},
		"medium": {"replacement_and_discount", "a free replacement plus 10% off your next order"},
		"high":   {"replacement_and_compensation", "an immediate replacement plus 25% store credit"},
	},
}

func (r *Resolution) compensate(issue, severity string, req Request) Outcome {
	row := compensationMatrix[issue]
	offer, ok := row[severity]
	if !ok {
		offer = row["medium"]
	}
	if tier := strings.ToLower(req.Context.CustomerTier); (tier == "vip" || tier == "premium") && offer[0] == "discount_code" {
		offer[1] = "10% off your next order"
	}
	return Outcome{
		Success:  true,
		Message:  "I'm sorry about the trouble. To make this right, I'm offering " + offer[1] + ".",
		Terminal: true,
		Signal:   router.SignalCompleted,
		Details: map[string]any{
			"compensation_type": offer[0],
			"issue":             issue,
			"severity":          severity,
			"auto_approved":     true,
		},
	}
}

func (r *Resolution) answerPolicy(ctx context.Context, req Request) Outcome {
	summary := fmt.Sprintf("Refunds are available within %d days of purchase. Defective or wrong items are always refundable, including shipping. Outside the window we offer store credit with a %.0f%% bonus.",
		r.policy.WindowDays, r.creditBonus*100)
	if r.completer == nil {
		return Outcome{Success: true, Message: summary, Terminal: true, Signal: router.SignalCompleted}
	}

	out, err := r.completer.Complete(ctx, capability.CompletionRequest{
		SystemPrompt: "You are a helpful customer service agent explaining company policies in simple terms.",
		UserPrompt:   "POLICY:\n" + summary + "\n\nCUSTOMER QUESTION:\n" + req.Message + "\n\nAnswer clearly in 2-3 sentences.",
		Temperature:  0.3,
		MaxTokens:    300,
	})
	if err != nil || strings.TrimSpace(out.Text) == "" {
		return Outcome{Success: true, Message: summary, Terminal: true, Signal: router.SignalCompleted}
	}
	return Outcome{Success: true, Message: out.Text, Terminal: true, Signal: router.SignalCompleted}
}

// refundReason classifies the customer's reason for a refund.
func refundReason(req Request) string {
	if r, ok := req.Context.Text("refund_reason"); ok {
		return r
	}
	m := strings.ToLower(req.Message)
	switch {
	case strings.Contains(m, "wrong item"):
		return ReasonWrongItem
	case strings.Contains(m, "missing"):
		return ReasonMissingPart
	case strings.Contains(m, "minor"), strings.Contains(m, "small scratch"):
		return ReasonMinorDefect
	case strings.Contains(m, "defect"), strings.Contains(m, "broken"), strings.Contains(m, "damaged"):
		return ReasonDefective
	}
	return ReasonChangedMind
}

func severityFromContext(req Request, def string) string {
	s, ok := req.Context.Text("defect_severity")
	if !ok {
		return def
	}
	switch s {
	case "major", "critical":
		return "high"
	case "moderate":
		return "medium"
	case "minor":
		return "low"
	}
	return def
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
