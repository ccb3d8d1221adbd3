package specialist

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/router"
)

// DefaultMaxImageBytes caps uploads handed to the vision model.
const DefaultMaxImageBytes = 5 << 20

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var analysisPrompts = map[string]string{
	"defect": `Analyze this product image for manufacturing defects or damage.
Look for stitching issues, surface damage, stains, discoloration, broken parts or missing components.

Answer with these lines:
DEFECT PRESENT: YES/NO
DESCRIPTION: what you see
SEVERITY: minor/moderate/major/critical
CONFIDENCE: 0-100%`,
	"wrong_item": `Compare this product image to the expected product.
Expected product: {product_name}

Answer with these lines:
MATCHES EXPECTED: YES/NO
ACTUAL ITEM: what you see
DIFFERENCES: specific differences
CONFIDENCE: 0-100%`,
	"quality_issue": `Evaluate the overall quality of this product: material, construction, color consistency and finish.

Answer with these lines:
DEFECT PRESENT: YES/NO
QUALITY ASSESSMENT: poor/fair/good/excellent
SEVERITY: minor/moderate/major/critical
CONFIDENCE: 0-100%`,
	"color_mismatch": `Check whether the product color matches typical product photos of {product_name}.

Answer with these lines:
DEFECT PRESENT: YES/NO
ACTUAL COLOR: the color you see
SEVERITY: minor/moderate/major
CONFIDENCE: 0-100%`,
}

// Analysis is the structured reading of a vision response.
type Analysis struct {
	IssueConfirmed bool    `json:"issue_confirmed"`
	Severity       string  `json:"severity"`
	Confidence     float64 `json:"confidence"`
	Description    string  `json:"description"`
}

// Recommendation is the action proposed to the customer.
type Recommendation struct {
	Action              string   `json:"action"`
	Message             string   `json:"message"`
	Priority            string   `json:"priority"`
	Compensation        string   `json:"compensation,omitempty"`
	Options             []string `json:"options,omitempty"`
	RequiresHumanReview bool     `json:"requires_human_review,omitempty"`
}

// Visual verifies defects and wrong items from customer photos.
type Visual struct {
	analyzer capability.ImageAnalyzer
	maxBytes int
}

// NewVisual returns the visual specialist. A nil analyzer sends every case
// to manual review.
func NewVisual(analyzer capability.ImageAnalyzer, maxImageBytes int) *Visual {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &Visual{analyzer: analyzer, maxBytes: maxImageBytes}
}

func (v *Visual) Handle(ctx context.Context, order Order, req Request) (Outcome, error) {
	issueType := "defect"
	if p, ok := req.Params.(router.VisualParams); ok && p.IssueType != "" {
		issueType = p.IssueType
	}

	if len(req.Image) == 0 {
		return Outcome{
			Success:  true,
			Message:  "I'm sorry to hear that. Could you upload a clear photo of the item so I can take a look? JPG, PNG or WEBP works best.",
			Terminal: true,
			Details:  map[string]any{"action": "request_image", "issue_type": issueType},
		}, nil
	}

	if mime := http.DetectContentType(req.Image); !supportedImageTypes[mime] {
		return Outcome{
			Success:  false,
			Message:  "Please upload a clear photo in JPG, PNG or WEBP format.",
			Terminal: true,
			Details:  map[string]any{"action": "request_new_image", "detected_type": mime},
		}, nil
	}
	if len(req.Image) > v.maxBytes {
		return Outcome{
			Success:  false,
			Message:  "That photo is too large. Please upload one under " + strconv.Itoa(v.maxBytes>>20) + " MB.",
			Terminal: true,
			Details:  map[string]any{"action": "request_new_image"},
		}, nil
	}

	if v.analyzer == nil {
		return manualReview(issueType, "visual analysis not configured"), nil
	}

	prompt := analysisPrompts[issueType]
	if prompt == "" {
		prompt = analysisPrompts["defect"]
	}
	prompt = strings.ReplaceAll(prompt, "{product_name}", orDefault(order.ProductName, "the ordered product"))

	text, err := v.analyzer.AnalyzeImage(ctx, req.Image, prompt)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("Image analysis failed")
		return manualReview(issueType, err.Error()), nil
	}

	analysis := ParseAnalysis(text, issueType)
	rec := Recommend(analysis)

	out := Outcome{
		Success: true,
		Message: rec.Message,
		Details: map[string]any{
			"issue_type":         issueType,
			"analysis":           analysis,
			"recommended_action": rec,
		},
	}
	if !analysis.IssueConfirmed {
		out.Signal = router.SignalCompleted
		out.Terminal = true
		return out, nil
	}

	out.Context = map[string]any{
		"issues_detected": []string{"product_" + issueType},
		"defect_severity": analysis.Severity,
	}
	out.Signal = router.SignalDefectConfirmed
	if wantsExchange(req.Message) {
		out.Signal = router.SignalExchangeNeeded
	}
	out.RequiresFollowup = followup(conversation.AgentVisual, out.Signal)
	return out, nil
}

// ParseAnalysis reads the labelled lines of a vision response.
func ParseAnalysis(response, issueType string) Analysis {
	lower := strings.ToLower(response)
	a := Analysis{Severity: "minor", Confidence: 0.8, Description: response}

	if v, ok := field(lower, "defect present:"); ok {
		a.IssueConfirmed = strings.Contains(v, "yes")
	}
	if !a.IssueConfirmed && issueType == "wrong_item" {
		if v, ok := field(lower, "matches expected:"); ok {
			a.IssueConfirmed = strings.Contains(v, "no")
		}
	}

	if v, ok := field(lower, "severity:"); ok {
		switch {
		case strings.Contains(v, "critical"):
			a.Severity = "critical"
		case strings.Contains(v, "major"):
			a.Severity = "major"
		case strings.Contains(v, "moderate"), strings.Contains(v, "significant"):
			a.Severity = "moderate"
		}
	}

	if v, ok := field(lower, "confidence:"); ok {
		digits := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' {
				return r
			}
			return -1
		}, v)
		if f, err := strconv.ParseFloat(digits, 64); err == nil {
			if f > 1 {
				f /= 100
			}
			a.Confidence = f
		}
	}
	return a
}

// Recommend maps an analysis to the customer-facing action.
func Recommend(a Analysis) Recommendation {
	if !a.IssueConfirmed {
		return Recommendation{
			Action:   "no_action_needed",
			Message:  "I didn't find any significant issues in the photo. If you still have concerns, just let me know what you're seeing.",
			Priority: "low",
		}
	}
	switch a.Severity {
	case "major", "critical":
		return Recommendation{
			Action:       "immediate_replacement",
			Message:      "We've confirmed a significant issue. We'll send a replacement with express shipping right away, and you can keep the defective item.",
			Priority:     "high",
			Compensation: "express_shipping_upgrade",
		}
	case "moderate":
		return Recommendation{
			Action:       "replacement",
			Message:      "We've identified an issue with your item. We'll send a replacement with free return shipping for the original.",
			Priority:     "medium",
			Compensation: "free_return",
		}
	}
	return Recommendation{
		Action:   "offer_options",
		Message:  "We detected a minor issue. You can keep the item with a 20% refund, exchange it for a new one, or get a full refund.",
		Priority: "low",
		Options:  []string{"partial_refund", "exchange", "full_refund"},
	}
}

func manualReview(issueType, reason string) Outcome {
	rec := Recommendation{
		Action:              "manual_review",
		Message:             "Our team will review your case personally. You'll hear from us within 24 hours with a solution.",
		Priority:            "medium",
		RequiresHumanReview: true,
	}
	return Outcome{
		Success: false,
		Message: rec.Message,
		Details: map[string]any{"issue_type": issueType, "recommended_action": rec, "error": reason},
		Context: map[string]any{"requires_human_review": true},
	}
}

func field(text, label string) (string, bool) {
	idx := strings.Index(text, label)
	if idx == -1 {
		return "", false
	}
	rest := text[idx+len(label):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest), true
}

func wantsExchange(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "exchange") || strings.Contains(m, "swap")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
