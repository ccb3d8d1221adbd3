package escalation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const playbookKey = "automatic_escalation_triggers"

// LoadPlaybook reads triggers from a TOML, YAML or JSON file.
func LoadPlaybook(path string) ([]Trigger, error) {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		parser = toml.Parser()
	case ".yaml", ".yml", ".json":
		parser = yaml.Parser()
	default:
		return nil, fmt.Errorf("unsupported playbook format: %s", path)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("error loading playbook: %w", err)
	}

	var triggers []Trigger
	if err := k.Unmarshal(playbookKey, &triggers); err != nil {
		return nil, fmt.Errorf("error decoding playbook: %w", err)
	}
	for _, t := range triggers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return triggers, nil
}

func float(v float64) *float64 { return &v }
func boolean(v bool) *bool     { return &v }

// DefaultTriggers is the built-in playbook used when none is configured.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{
			ID:             "legal_threat",
			Condition:      Condition{Keywords: []string{"lawyer", "attorney", "sue you", "suing", "legal action", "lawsuit"}},
			EscalateToTier: 3,
			Reason:         "Legal threat detected",
			Message:        "I'm connecting you with a senior member of our team who can help with this right away.",
		},
		{
			ID:             "abusive_language",
			Condition:      Condition{Keywords: []string{"idiot", "stupid", "useless", "scam", "fraud"}},
			EscalateToTier: 2,
			Reason:         "Customer frustration or abusive language",
			Message:        "I'm sorry for the trouble. Let me bring in a member of our support team.",
		},
		{
			ID:             "high_value_order",
			Condition:      Condition{OrderValueExceeds: float(1000)},
			EscalateToTier: 2,
			Reason:         "High value order requires human review",
			Message:        "Given the value of this order, a specialist from our team will take it from here.",
		},
		{
			ID:             "vip_customer",
			Condition:      Condition{CustomerTier: []string{"vip", "platinum"}},
			AutoEscalate:   boolean(false),
			EscalateToTier: 2,
			Reason:         "VIP customer",
			Message:        "As a valued member, you can speak with a dedicated agent at any time. Just ask.",
		},
	}
}
