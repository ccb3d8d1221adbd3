// Package capability defines the external AI services the orchestrator
// consumes and the resilience wrapper applied to every call.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks bad input or a malformed provider response. Such
// errors are never retried.
var ErrValidation = errors.New("capability validation error")

// ErrUnavailable is returned when a capability is not configured.
var ErrUnavailable = errors.New("capability not configured")

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Failure is the typed result of a call that did not succeed after the
// retry policy was applied.
type Failure struct {
	Op       string
	Attempts int
	Reasons  []string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", f.Op, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Tool is a function the completion model may select.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// CompletionRequest is the input of Complete.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tools        []Tool
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration // zero uses the client default
}

// Validate rejects requests that can never succeed.
func (r CompletionRequest) Validate() error {
	if strings.TrimSpace(r.UserPrompt) == "" {
		return Validationf("user prompt is empty")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return Validationf("temperature %.2f out of range", r.Temperature)
	}
	if r.MaxTokens < 0 {
		return Validationf("max tokens must not be negative")
	}
	for _, t := range r.Tools {
		if t.Name == "" {
			return Validationf("tool without a name")
		}
	}
	return nil
}

// ToolCall is a function selection returned by the model.
type ToolCall struct {
	Name      string
	Arguments string // raw JSON as produced by the model
}

// Completion is the output of Complete. At least one of Text and ToolCall is set.
type Completion struct {
	Text     string
	ToolCall *ToolCall
}

// Match is one similarity search hit.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Filter restricts a search to entries whose metadata carries every pair.
type Filter map[string]string

// Matches reports whether metadata satisfies f.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string, dimensions int) ([]float32, error)
}

type Searcher interface {
	SimilaritySearch(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
}

type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error)
}

// Set groups the backends of each capability. Any field may be nil.
type Set struct {
	Completer     Completer
	Embedder      Embedder
	Searcher      Searcher
	ImageAnalyzer ImageAnalyzer
}
