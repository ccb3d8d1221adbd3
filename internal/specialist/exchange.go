package specialist

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/router"
)

// ExchangePolicy holds the exchange rules.
type ExchangePolicy struct {
	WindowDays          int      `koanf:"window_days"`
	MaxExchanges        int      `koanf:"max_exchanges"`
	Restricted          []string `koanf:"restricted_categories"`
	RecommendationCount int      `koanf:"recommendation_count"`
	SimilarityThreshold float64  `koanf:"similarity_threshold"`
	EmbeddingDimensions int      `koanf:"embedding_dimensions"`
}

func DefaultExchangePolicy() ExchangePolicy {
	return ExchangePolicy{
		WindowDays:          45,
		MaxExchanges:        2,
		Restricted:          []string{"Final Sale", "Personalized", "Intimate Apparel"},
		RecommendationCount: 5,
		SimilarityThreshold: 0.7,
		EmbeddingDimensions: 1536,
	}
}

// Recommendation entry for an alternative product.
type Alternative struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Category  string  `json:"category"`
	Score     float64 `json:"similarity_score"`
	Why       string  `json:"why_recommended"`
}

// Exchange processes size and color swaps and recommends alternatives.
type Exchange struct {
	policy    ExchangePolicy
	inventory Inventory
	embedder  capability.Embedder
	searcher  capability.Searcher
}

func NewExchange(policy ExchangePolicy, inv Inventory, emb capability.Embedder, search capability.Searcher) *Exchange {
	def := DefaultExchangePolicy()
	if policy.WindowDays <= 0 {
		policy.WindowDays = def.WindowDays
	}
	if policy.MaxExchanges <= 0 {
		policy.MaxExchanges = def.MaxExchanges
	}
	if policy.Restricted == nil {
		policy.Restricted = def.Restricted
	}
	if policy.RecommendationCount <= 0 {
		policy.RecommendationCount = def.RecommendationCount
	}
	if policy.SimilarityThreshold <= 0 {
		policy.SimilarityThreshold = def.SimilarityThreshold
	}
	if policy.EmbeddingDimensions <= 0 {
		policy.EmbeddingDimensions = def.EmbeddingDimensions
	}
	if inv == nil {
		inv = NewMemoryInventory()
	}
	return &Exchange{policy: policy, inventory: inv, embedder: emb, searcher: search}
}

// Dimensions is the embedding size recommendations are searched with.
func (e *Exchange) Dimensions() int { return e.policy.EmbeddingDimensions }

func (e *Exchange) Handle(ctx context.Context, order Order, req Request) (Outcome, error) {
	if !order.Found() {
		return missingOrder(), nil
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	p, _ := req.Params.(router.ExchangeParams)
	kind := p.ExchangeType
	if kind == "" && req.Trigger == router.SignalExchangeNeeded {
		kind = "replacement"
	}

	if kind == "similar_product" || kind == "style" {
		return e.recommend(ctx, order, p.Preference)
	}

	if ok, reason := e.eligible(order, now); !ok {
		return Outcome{
			Success:  false,
			Message:  "I'm sorry, but this item isn't eligible for exchange: " + reason,
			Terminal: true,
			Details:  map[string]any{"reason": reason},
		}, nil
	}

	want := Variant{Size: order.Size, Color: order.Color}
	switch kind {
	case "size":
		want.Size = p.Preference
		if want.Size == "" {
			return ask("Which size would you like instead?"), nil
		}
	case "color":
		want.Color = p.Preference
		if want.Color == "" {
			return ask("Which color would you like instead?"), nil
		}
	case "replacement":
	default:
		return ask("Would you like to exchange for a different size or a different color?"), nil
	}

	inStock, err := e.inventory.InStock(ctx, order.ProductID, want)
	if err != nil {
		return Outcome{}, fmt.Errorf("inventory check for %s: %w", order.ProductID, err)
	}
	if !inStock {
		out := Outcome{
			Success: false,
			Message: fmt.Sprintf("%s is currently out of stock. Let me see what else I can do for you.", describeVariant(order.ProductName, want)),
			Signal:  router.SignalOutOfStock,
			Details: map[string]any{"exchange_type": kind, "variant": want},
		}
		out.RequiresFollowup = followup(conversation.AgentExchange, out.Signal)
		return out, nil
	}

	var msg string
	switch kind {
	case "size":
		msg = fmt.Sprintf("Perfect! I'm exchanging your %s from size %s to %s.", order.ProductName, order.Size, want.Size)
	case "color":
		msg = fmt.Sprintf("Great choice! I'm exchanging your %s %s for the %s version.", order.Color, order.ProductName, want.Color)
	default:
		msg = fmt.Sprintf("I'm sending you a brand new %s.", order.ProductName)
	}
	msg += " The new item ships within 24 hours and a prepaid return label is on its way to your inbox."

	return Outcome{
		Success:  true,
		Message:  msg,
		Terminal: true,
		Signal:   router.SignalExchangeProcessed,
		Details: map[string]any{
			"exchange_type":   kind,
			"variant":         want,
			"shipping":        "free",
			"processing_time": "3 business days",
		},
	}, nil
}

func (e *Exchange) eligible(order Order, now time.Time) (bool, string) {
	if order.DeliveredAt != nil {
		days := int(now.Sub(*order.DeliveredAt).Hours() / 24)
		if days > e.policy.WindowDays {
			return false, fmt.Sprintf("the exchange window (%d days) has expired", e.policy.WindowDays)
		}
	}
	if order.ExchangeCount >= e.policy.MaxExchanges {
		return false, fmt.Sprintf("the maximum number of exchanges (%d) has been reached for this order", e.policy.MaxExchanges)
	}
	for _, c := range e.policy.Restricted {
		if strings.EqualFold(c, order.Category) {
			return false, c + " items cannot be exchanged"
		}
	}
	return true, ""
}

func (e *Exchange) recommend(ctx context.Context, order Order, preference string) (Outcome, error) {
	noneFound := Outcome{
		Success:  false,
		Message:  "I couldn't find suitable alternatives right now. Would you prefer a refund instead?",
		Terminal: true,
	}
	if e.embedder == nil || e.searcher == nil {
		return noneFound, nil
	}

	query := strings.Join(nonEmpty(order.ProductName, order.Category, order.Description, preference), " ")
	vec, err := e.embedder.Embed(ctx, query, e.policy.EmbeddingDimensions)
	if err != nil {
		log.Warn().Err(err).Str("product_id", order.ProductID).Msg("Embedding for recommendations failed")
		return noneFound, nil
	}
	matches, err := e.searcher.SimilaritySearch(ctx, vec, e.policy.RecommendationCount+1, capability.Filter{"type": "product"})
	if err != nil {
		log.Warn().Err(err).Str("product_id", order.ProductID).Msg("Similarity search failed")
		return noneFound, nil
	}

	var alts []Alternative
	for _, m := range matches {
		if m.Metadata["product_id"] == order.ProductID || m.ID == order.ProductID {
			continue
		}
		if m.Score < e.policy.SimilarityThreshold {
			continue
		}
		price, _ := strconv.ParseFloat(m.Metadata["price"], 64)
		alt := Alternative{
			ProductID: orDefault(m.Metadata["product_id"], m.ID),
			Name:      m.Metadata["name"],
			Price:     price,
			Category:  m.Metadata["category"],
			Score:     math.Round(m.Score*100) / 100,
		}
		alt.Why = whyRecommended(order, alt)
		alts = append(alts, alt)
		if len(alts) >= e.policy.RecommendationCount {
			break
		}
	}
	if len(alts) == 0 {
		return noneFound, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d great alternatives for you:\n", len(alts))
	for i, a := range alts {
		fmt.Fprintf(&b, "\n%d. %s - $%.2f\n   %s", i+1, a.Name, a.Price, a.Why)
	}
	b.WriteString("\n\nWould you like details on any of these? Just let me know the number!")

	return Outcome{
		Success:  true,
		Message:  b.String(),
		Terminal: true,
		Signal:   router.SignalCompleted,
		Details:  map[string]any{"recommendations": alts, "count": len(alts)},
	}, nil
}

func whyRecommended(order Order, alt Alternative) string {
	var reasons []string
	if alt.Category != "" && strings.EqualFold(alt.Category, order.Category) {
		reasons = append(reasons, "Same category ("+alt.Category+")")
	}
	if order.Total > 0 && alt.Price > 0 {
		switch diff := order.Total - alt.Price; {
		case math.Abs(diff) < 10:
			reasons = append(reasons, "Similar price point")
		case diff > 0:
			reasons = append(reasons, fmt.Sprintf("$%.2f less expensive", diff))
		}
	}
	if len(reasons) == 0 {
		return "Similar style and quality"
	}
	return strings.Join(reasons, ", ")
}

func describeVariant(name string, v Variant) string {
	switch {
	case v.Size != "" && v.Color != "":
		return fmt.Sprintf("The %s in %s, size %s,", name, v.Color, v.Size)
	case v.Size != "":
		return fmt.Sprintf("Size %s of the %s", v.Size, name)
	}
	return "The " + name
}

func ask(question string) Outcome {
	return Outcome{Success: true, Message: question, Terminal: true, Details: map[string]any{"action": "clarify"}}
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
