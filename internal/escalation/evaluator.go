package escalation

import (
	"errors"
	"fmt"
	"strings"
)

// Signals is the read-only view of conversation context the evaluator needs.
type Signals interface {
	Number(name string) (float64, bool)
	Text(name string) (string, bool)
}

// Condition describes when a trigger matches. Exactly one kind must be set.
type Condition struct {
	Keywords          []string `koanf:"keywords" json:"keywords,omitempty"`
	OrderValueExceeds *float64 `koanf:"order_value_exceeds" json:"order_value_exceeds,omitempty"`
	Field             string   `koanf:"field" json:"field,omitempty"` // numeric field compared against the threshold
	CustomerTier      []string `koanf:"customer_tier" json:"customer_tier,omitempty"`
}

// Trigger is one row of the escalation playbook.
type Trigger struct {
	ID             string    `koanf:"trigger_id" json:"trigger_id"`
	Condition      Condition `koanf:"condition" json:"condition"`
	AutoEscalate   *bool     `koanf:"auto_escalate" json:"auto_escalate,omitempty"`
	EscalateToTier int       `koanf:"escalate_to_tier" json:"escalate_to_tier"`
	Reason         string    `koanf:"reason" json:"reason"`
	Message        string    `koanf:"message" json:"message,omitempty"`
}

// Auto reports whether a matching tier trigger forces escalation. Unset
// means true.
func (t Trigger) Auto() bool {
	return t.AutoEscalate == nil || *t.AutoEscalate
}

// Kind names the condition kind of t.
func (t Trigger) Kind() string {
	switch {
	case len(t.Condition.Keywords) > 0:
		return "keywords"
	case t.Condition.OrderValueExceeds != nil:
		return "threshold"
	case len(t.Condition.CustomerTier) > 0:
		return "customer_tier"
	}
	return ""
}

// Validate checks that t carries exactly one condition kind.
func (t Trigger) Validate() error {
	kinds := 0
	if len(t.Condition.Keywords) > 0 {
		kinds++
	}
	if t.Condition.OrderValueExceeds != nil {
		kinds++
	}
	if len(t.Condition.CustomerTier) > 0 {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("trigger %q must have exactly one condition, has %d", t.ID, kinds)
	}
	if t.ID == "" {
		return errors.New("trigger_id is required")
	}
	return nil
}

// Decision is the outcome of evaluating a message.
type Decision struct {
	ShouldEscalate  bool   `json:"should_escalate"`
	OfferEscalation bool   `json:"offer_escalation,omitempty"`
	Tier            int    `json:"escalate_to_tier,omitempty"`
	Reason          string `json:"reason,omitempty"`
	TriggerID       string `json:"trigger_id,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Evaluator applies a fixed trigger table. It is safe for concurrent use.
type Evaluator struct {
	triggers []Trigger
}

// NewEvaluator validates triggers and keeps them in order.
func NewEvaluator(triggers []Trigger) (*Evaluator, error) {
	out := make([]Trigger, 0, len(triggers))
	for _, t := range triggers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		kw := make([]string, 0, len(t.Condition.Keywords))
		for _, k := range t.Condition.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		t.Condition.Keywords = kw
		t.Condition.CustomerTier = append([]string(nil), t.Condition.CustomerTier...)
		out = append(out, t)
	}
	return &Evaluator{triggers: out}, nil
}

// Triggers returns a copy of the trigger table.
func (e *Evaluator) Triggers() []Trigger {
	return append([]Trigger(nil), e.triggers...)
}

// Evaluate returns the decision of the first matching trigger.
func (e *Evaluator) Evaluate(message string, signals Signals) Decision {
	lower := strings.ToLower(message)

	for _, t := range e.triggers {
		switch t.Kind() {
		case "keywords":
			for _, k := range t.Condition.Keywords {
				if strings.Contains(lower, k) {
					return escalate(t)
				}
			}
		case "threshold":
			field := t.Condition.Field
			if field == "" {
				field = "order_value"
			}
			if signals == nil {
				continue
			}
			if v, ok := signals.Number(field); ok && v > *t.Condition.OrderValueExceeds {
				return escalate(t)
			}
		case "customer_tier":
			tier := "regular"
			if signals != nil {
				if v, ok := signals.Text("customer_tier"); ok {
					tier = v
				}
			}
			if !containsFold(t.Condition.CustomerTier, tier) {
				continue
			}
			if !t.Auto() {
				return Decision{
					OfferEscalation: true,
					Tier:            t.EscalateToTier,
					Reason:          t.Reason,
					TriggerID:       t.ID,
					Message:         t.Message,
				}
			}
			return escalate(t)
		}
	}
	return Decision{}
}

func escalate(t Trigger) Decision {
	return Decision{
		ShouldEscalate: true,
		Tier:           t.EscalateToTier,
		Reason:         t.Reason,
		TriggerID:      t.ID,
		Message:        t.Message,
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
