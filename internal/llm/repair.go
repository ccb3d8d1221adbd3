// Package llm decodes structured output produced by language models, which is
// often almost-but-not-quite valid JSON.
package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats describes what RepairJSON had to change.
type RepairStats struct {
	OriginalBytes int           `json:"original_bytes"`
	RepairedBytes int           `json:"repaired_bytes"`
	CommentsLost  int           `json:"comments_lost"`
	ErrorsFixed   int           `json:"errors_fixed"`
	RepairTime    time.Duration `json:"repair_time"`
	Strategies    []string      `json:"strategies"`
	WasRepaired   bool          `json:"was_repaired"`
}

var (
	trailingCommaObj = regexp.MustCompile(`,\s*}`)
	trailingCommaArr = regexp.MustCompile(`,\s*]`)
	blockComment     = regexp.MustCompile(`(?s)/\*.*?\*/`)
	bareKey          = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	singleQuoted     = regexp.MustCompile(`'([^']*)'`)
)

// RepairJSON tries a sequence of cheap fixes and falls back to jsonrepair.
// Valid input is returned unchanged.
func RepairJSON(raw string) (string, RepairStats, error) {
	start := time.Now()
	stats := RepairStats{OriginalBytes: len(raw)}

	if json.Valid([]byte(raw)) {
		stats.RepairedBytes = len(raw)
		stats.RepairTime = time.Since(start)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw

	apply := func(name string, fix func(string) string) {
		if json.Valid([]byte(repaired)) {
			return
		}
		next := fix(repaired)
		if next != repaired {
			repaired = next
			stats.Strategies = append(stats.Strategies, name)
			stats.ErrorsFixed++
		}
	}

	apply("comments_removed", func(s string) string {
		out, n := removeComments(s)
		stats.CommentsLost += n
		return out
	})
	apply("trailing_commas", func(s string) string {
		s = trailingCommaObj.ReplaceAllString(s, "}")
		return trailingCommaArr.ReplaceAllString(s, "]")
	})
	apply("completion", completeJSON)
	apply("key_quotes", func(s string) string { return bareKey.ReplaceAllString(s, `$1"$2"$3`) })
	apply("single_quotes", func(s string) string { return singleQuoted.ReplaceAllString(s, `"$1"`) })
	apply("jsonrepair_library", func(s string) string {
		out, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return s
		}
		return out
	})

	stats.RepairedBytes = len(repaired)
	stats.RepairTime = time.Since(start)
	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
	}
	return repaired, stats, nil
}

// completeJSON closes unterminated objects and arrays, innermost first.
func completeJSON(s string) string {
	s = strings.TrimSpace(s)
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

func removeComments(s string) (string, int) {
	removed := 0
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx != -1 && !insideString(line, idx) {
			lines[i] = line[:idx]
			removed++
		}
	}
	s = strings.Join(lines, "\n")
	removed += len(blockComment.FindAllString(s, -1))
	return blockComment.ReplaceAllString(s, ""), removed
}

// insideString reports whether position idx of line falls inside a
// double-quoted string, so URLs in values survive comment stripping.
func insideString(line string, idx int) bool {
	in := false
	for i := 0; i < idx; i++ {
		if line[i] == '\\' {
			i++
			continue
		}
		if line[i] == '"' {
			in = !in
		}
	}
	return in
}
