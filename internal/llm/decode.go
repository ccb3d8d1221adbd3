package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoJSON is returned when a response carries no JSON value at all.
var ErrNoJSON = errors.New("no JSON found in model response")

// Decode extracts the JSON value from a model response, repairs it when
// needed and unmarshals it into target.
func Decode(raw string, target any) (RepairStats, error) {
	body := ExtractJSON(raw)
	if body == "" {
		log.Debug().Str("response", truncateForLog(raw, 200)).Msg("No JSON in model response")
		return RepairStats{}, ErrNoJSON
	}

	repaired, stats, err := RepairJSON(body)
	if stats.WasRepaired {
		log.Debug().
			Strs("strategies", stats.Strategies).
			Int("errors_fixed", stats.ErrorsFixed).
			Dur("repair_time", stats.RepairTime).
			Msg("Repaired model JSON")
	}
	if err != nil {
		log.Debug().Err(err).Str("json", truncateForLog(body, 500)).Msg("JSON repair failed")
		return stats, err
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("JSON parsing failed after repair: %w", err)
	}
	return stats, nil
}

// DecodeArguments decodes tool-call arguments into a map. Empty arguments
// decode to an empty map.
func DecodeArguments(raw string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if _, err := Decode(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ExtractJSON returns the first JSON object or array in raw, looking inside
// markdown code fences when present.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var lines []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inBlock {
					break
				}
				inBlock = true
				continue
			}
			if inBlock {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			return strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return ""
	}
	open := raw[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw[start:]
}

func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
