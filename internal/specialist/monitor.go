package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/router"
)

// StaleAfter is how long a shipment may go without a tracking event.
const StaleAfter = 48 * time.Hour

// Issue is a problem found in tracking data.
type Issue struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	ActionRequired bool   `json:"action_required"`
}

// Monitor answers tracking questions and detects shipping problems before
// the customer reports them.
type Monitor struct{}

func NewMonitor() *Monitor { return &Monitor{} }

func (m *Monitor) Handle(_ context.Context, order Order, req Request) (Outcome, error) {
	if !order.Found() {
		return missingOrder(), nil
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	issues := DetectTrackingIssues(order, now)
	out := Outcome{
		Success: true,
		Message: statusMessage(order, issues),
		Details: map[string]any{
			"order_id":          order.OrderID,
			"status":            order.Status,
			"issues_detected":   issues,
			"proactive_actions": proactiveActions(issues),
		},
	}
	if order.Tracking != nil {
		out.Details["carrier"] = order.Tracking.Carrier
		out.Details["tracking_number"] = order.Tracking.TrackingNumber
	}

	var types []string
	actionable, delayed := false, false
	for _, is := range issues {
		types = append(types, is.Type)
		if is.ActionRequired {
			actionable = true
		}
		if is.Type == "delivery_delay" {
			delayed = true
		}
	}
	if len(types) > 0 {
		out.Context = map[string]any{"issues_detected": types}
	}

	switch {
	case delayed:
		out.Signal = router.SignalDelayDetected
	case actionable:
		out.Signal = router.SignalIssueFound
	default:
		out.Signal = router.SignalCompleted
		out.Terminal = true
		return out, nil
	}
	out.RequiresFollowup = followup(conversation.AgentMonitor, out.Signal)
	return out, nil
}

// DetectTrackingIssues inspects an order's shipment at time now.
func DetectTrackingIssues(order Order, now time.Time) []Issue {
	var issues []Issue
	t := order.Tracking
	delivered := order.Status == "delivered"

	if t != nil && !t.ExpectedDelivery.IsZero() && t.ExpectedDelivery.Before(now) && !delivered {
		days := int(now.Sub(t.ExpectedDelivery).Hours() / 24)
		issues = append(issues, Issue{
			Type:           "delivery_delay",
			Severity:       "high",
			Description:    fmt.Sprintf("Package is %d days past expected delivery", days),
			ActionRequired: true,
		})
	}

	if t != nil && len(t.Events) > 0 && !delivered {
		last := t.Events[len(t.Events)-1].Timestamp
		if since := now.Sub(last); since > StaleAfter {
			issues = append(issues, Issue{
				Type:           "tracking_stale",
				Severity:       "medium",
				Description:    fmt.Sprintf("No tracking update in %d hours", int(since.Hours())),
				ActionRequired: true,
			})
		}
	}

	if order.Status == "delivery_attempted" {
		issues = append(issues, Issue{
			Type:           "delivery_attempted",
			Severity:       "medium",
			Description:    "Delivery was attempted but customer was not available",
			ActionRequired: true,
		})
	}

	if t != nil && t.Delay != nil {
		issues = append(issues, Issue{
			Type:        "weather_delay",
			Severity:    "low",
			Description: t.Delay.Reason,
		})
	}
	return issues
}

func statusMessage(order Order, issues []Issue) string {
	var carrier, location, expected string
	if t := order.Tracking; t != nil {
		carrier, location = t.Carrier, t.Location
		if !t.ExpectedDelivery.IsZero() {
			expected = t.ExpectedDelivery.Format("January 02")
		}
	}

	var msg string
	switch order.Status {
	case "delivered":
		msg = "Great news! Your package was delivered."
	case "out_for_delivery":
		msg = fmt.Sprintf("Your package is out for delivery today with %s!", carrier)
	case "in_transit":
		msg = fmt.Sprintf("Your package is in transit. Current location: %s. Expected delivery: %s.", location, expected)
	case "shipped":
		msg = fmt.Sprintf("Your package has shipped via %s. Expected delivery: %s.", carrier, expected)
	case "processing":
		msg = "Your order is being processed and will ship soon."
	default:
		msg = "Order status: " + titleCase(strings.ReplaceAll(order.Status, "_", " "))
	}

	for _, is := range issues {
		if is.Severity == "high" {
			msg += "\n\n" + is.Description
			break
		}
	}
	return msg
}

func proactiveActions(issues []Issue) []map[string]string {
	var actions []map[string]string
	for _, is := range issues {
		switch is.Type {
		case "delivery_delay":
			actions = append(actions,
				map[string]string{"action": "offer_compensation", "type": "discount_code", "value": "15% off next order"},
				map[string]string{"action": "offer_refund", "type": "shipping_refund"},
			)
		case "delivery_attempted":
			actions = append(actions, map[string]string{"action": "reschedule_delivery"})
		case "tracking_stale":
			actions = append(actions, map[string]string{"action": "investigate"})
		}
	}
	return actions
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
