package conversation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Context holds the auxiliary signals of a conversation. Well-known signals
// are typed fields; anything else lands in Extra as JSON-native values.
type Context struct {
	StartedAt         time.Time `json:"started_at"`
	TurnCount         int       `json:"turn_count"`
	Sentiment         string    `json:"sentiment"`
	IssuesDetected    []string  `json:"issues_detected"`
	CustomerTier      string    `json:"customer_tier,omitempty"`
	OrderValue        float64   `json:"order_value,omitempty"`
	ImageUploaded     bool      `json:"image_uploaded,omitempty"`
	RequiresApproval  bool      `json:"requires_approval,omitempty"`
	EscalationOffered bool      `json:"escalation_offered,omitempty"`
	Escalated         bool      `json:"escalated,omitempty"`
	EscalationTier    int       `json:"escalation_tier,omitempty"`
	EscalationReason  string    `json:"escalation_reason,omitempty"`
	TurnLimitReached  bool      `json:"turn_limit_reached,omitempty"`
	LastIntent        string    `json:"last_intent,omitempty"`
	LastConfidence    float64   `json:"last_confidence,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// NewContext returns the context every conversation starts with.
func NewContext(now time.Time) Context {
	return Context{
		StartedAt:      now,
		Sentiment:      "neutral",
		IssuesDetected: []string{},
	}
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	out.IssuesDetected = append(make([]string, 0, len(c.IssuesDetected)), c.IssuesDetected...)
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = cloneValue(v)
		}
	}
	return out
}

// AddIssue records a detected issue once.
func (c *Context) AddIssue(issue string) {
	for _, existing := range c.IssuesDetected {
		if existing == issue {
			return
		}
	}
	c.IssuesDetected = append(c.IssuesDetected, issue)
}

// Merge applies caller-supplied signals. Known keys must carry the right type.
// A rejected update leaves c untouched.
func (c *Context) Merge(values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	next := c.Clone()
	for key, raw := range values {
		if err := next.set(key, raw); err != nil {
			return err
		}
	}
	*c = next
	return nil
}

func (c *Context) set(key string, raw any) error {
	var err error
	switch key {
	case "turn_count", "started_at", "escalated", "escalation_tier", "escalation_reason", "turn_limit_reached":
		return fmt.Errorf("context field %q is managed by the orchestrator", key)
	case "sentiment":
		c.Sentiment, err = asString(key, raw)
	case "customer_tier":
		c.CustomerTier, err = asString(key, raw)
	case "order_value":
		c.OrderValue, err = asFloat(key, raw)
	case "image_uploaded":
		c.ImageUploaded, err = asBool(key, raw)
	case "requires_approval":
		c.RequiresApproval, err = asBool(key, raw)
	case "issues_detected":
		list, ok := raw.([]string)
		if !ok {
			anyList, isAny := raw.([]any)
			if !isAny {
				return fmt.Errorf("context field %q must be a list of strings", key)
			}
			for _, item := range anyList {
				s, isString := item.(string)
				if !isString {
					return fmt.Errorf("context field %q must be a list of strings", key)
				}
				list = append(list, s)
			}
		}
		for _, issue := range list {
			c.AddIssue(issue)
		}
	default:
		normalized, nerr := normalize(raw)
		if nerr != nil {
			return fmt.Errorf("context field %q: %w", key, nerr)
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[key] = normalized
	}
	return err
}

// Number returns a numeric signal by name.
func (c Context) Number(name string) (float64, bool) {
	switch name {
	case "order_value":
		return c.OrderValue, c.OrderValue != 0
	case "turn_count":
		return float64(c.TurnCount), true
	case "escalation_tier":
		return float64(c.EscalationTier), c.EscalationTier != 0
	}
	v, ok := c.Extra[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Text returns a string signal by name.
func (c Context) Text(name string) (string, bool) {
	switch name {
	case "customer_tier":
		return c.CustomerTier, c.CustomerTier != ""
	case "sentiment":
		return c.Sentiment, c.Sentiment != ""
	}
	v, ok := c.Extra[name].(string)
	return v, ok && v != ""
}

// Flag returns a boolean signal by name.
func (c Context) Flag(name string) bool {
	switch name {
	case "image_uploaded":
		return c.ImageUploaded
	case "requires_approval":
		return c.RequiresApproval
	case "escalated":
		return c.Escalated
	}
	v, _ := c.Extra[name].(bool)
	return v
}

func asString(key string, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("context field %q must be a string", key)
	}
	return s, nil
}

func asBool(key string, raw any) (bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("context field %q must be a boolean", key)
	}
	return b, nil
}

func asFloat(key string, raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("context field %q must be numeric", key)
		}
		return f, nil
	}
	return 0, fmt.Errorf("context field %q must be numeric", key)
}

// normalize converts v to the shape encoding/json would produce when decoding
// it, so that stored extras survive export and import unchanged.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	}
	return v
}
