package specialist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/router"
)

// keywordEmbedder places text on a tee/jacket/dress axis.
type keywordEmbedder struct{ err error }

func (k keywordEmbedder) Embed(_ context.Context, text string, _ int) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	t := strings.ToLower(text)
	v := []float32{0, 0, 0, 0.1}
	if strings.Contains(t, "tee") {
		v[0] = 1
	}
	if strings.Contains(t, "jacket") {
		v[1] = 1
	}
	if strings.Contains(t, "dress") {
		v[2] = 1
	}
	return v, nil
}

func jacketInventory() *MemoryInventory {
	inv := NewMemoryInventory()
	inv.Set("PROD-JKT-02", Variant{Size: "XL", Color: "Olive"}, 2)
	inv.Set("PROD-JKT-02", Variant{Size: "L", Color: "Olive"}, 4)
	inv.Set("PROD-JKT-02", Variant{Size: "L", Color: "Black"}, 1)
	return inv
}

func TestExchangeSizeInStock(t *testing.T) {
	e := NewExchange(ExchangePolicy{}, jacketInventory(), nil, nil)
	out, err := e.Handle(context.Background(), sampleOrder(t, "ORD456"), Request{
		Params: router.ExchangeParams{ExchangeType: "size", Preference: "XL"},
		Now:    now,
	})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.True(t, out.Terminal)
	assert.Equal(t, router.SignalExchangeProcessed, out.Signal)
	assert.Contains(t, out.Message, "from size L to XL")
	assert.Equal(t, Variant{Size: "XL", Color: "Olive"}, out.Details["variant"])
}

func TestExchangeColorInStock(t *testing.T) {
	e := NewExchange(ExchangePolicy{}, jacketInventory(), nil, nil)
	out, err := e.Handle(context.Background(), sampleOrder(t, "ORD456"), Request{
		Params: router.ExchangeParams{ExchangeType: "color", Preference: "Black"},
		Now:    now,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Contains(t, out.Message, "for the Black version")
}

func TestExchangeOutOfStockHandsOffToResolution(t *testing.T) {
	e := NewExchange(ExchangePolicy{}, jacketInventory(), nil, nil)
	out, err := e.Handle(context.Background(), sampleOrder(t, "ORD456"), Request{
		Params: router.ExchangeParams{ExchangeType: "size", Preference: "S"},
		Now:    now,
	})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.False(t, out.Terminal)
	assert.Equal(t, router.SignalOutOfStock, out.Signal)
	assert.Equal(t, conversation.AgentResolution, out.RequiresFollowup)
	assert.Contains(t, out.Message, "out of stock")
}

func TestExchangeEligibility(t *testing.T) {
	e := NewExchange(ExchangePolicy{}, jacketInventory(), nil, nil)
	req := Request{Params: router.ExchangeParams{ExchangeType: "size", Preference: "XL"}, Now: now}

	expired := sampleOrder(t, "ORD456")
	delivered := now.AddDate(0, 0, -50)
	expired.DeliveredAt = &delivered

	maxed := sampleOrder(t, "ORD456")
	maxed.ExchangeCount = 2

	tests := []struct {
		name   string
		order  Order
		reason string
	}{
		{name: "final sale", order: sampleOrder(t, "ORD789"), reason: "Final Sale items cannot be exchanged"},
		{name: "window expired", order: expired, reason: "the exchange window (45 days) has expired"},
		{name: "too many exchanges", order: maxed, reason: "the maximum number of exchanges (2) has been reached for this order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Handle(context.Background(), tt.order, req)
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.True(t, out.Terminal)
			assert.Equal(t, tt.reason, out.Details["reason"])
		})
	}
}

func TestExchangeAsksForPreference(t *testing.T) {
	e := NewExchange(ExchangePolicy{}, jacketInventory(), nil, nil)
	order := sampleOrder(t, "ORD456")

	out, err := e.Handle(context.Background(), order, Request{Params: router.ExchangeParams{ExchangeType: "size"}, Now: now})
	require.NoError(t, err)
	assert.Equal(t, "Which size would you like instead?", out.Message)
	assert.Equal(t, "clarify", out.Details["action"])

	out, err = e.Handle(context.Background(), order, Request{Now: now})
	require.NoError(t, err)
	assert.Contains(t, out.Message, "different size or a different color")
}

func TestExchangeReplacementAfterDefect(t *testing.T) {
	e := NewExchange(ExchangePolicy{}, jacketInventory(), nil, nil)
	out, err := e.Handle(context.Background(), sampleOrder(t, "ORD456"), Request{Trigger: router.SignalExchangeNeeded, Now: now})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "replacement", out.Details["exchange_type"])
	assert.Contains(t, out.Message, "brand new Trail Rain Jacket")
}

func TestExchangeMissingOrder(t *testing.T) {
	out, err := NewExchange(ExchangePolicy{}, nil, nil, nil).Handle(context.Background(), Order{}, Request{})
	require.NoError(t, err)
	assert.Equal(t, askOrderNumber, out.Message)
}

func TestExchangeRecommendations(t *testing.T) {
	ctx := context.Background()
	idx := capability.NewMemoryIndex()
	require.NoError(t, IndexProducts(ctx, keywordEmbedder{}, idx, 4, SampleProducts()))
	assert.Equal(t, len(SampleProducts()), idx.Size())

	e := NewExchange(ExchangePolicy{EmbeddingDimensions: 4}, nil, keywordEmbedder{}, idx)
	out, err := e.Handle(ctx, sampleOrder(t, "ORD123"), Request{
		Params: router.ExchangeParams{ExchangeType: "similar_product"},
		Now:    now,
	})
	require.NoError(t, err)
	require.True(t, out.Success)

	alts := out.Details["recommendations"].([]Alternative)
	require.Len(t, alts, 2)
	assert.Equal(t, "PROD-TEE-02", alts[0].ProductID)
	assert.Equal(t, "Same category (Apparel), Similar price point", alts[0].Why)
	assert.Equal(t, "PROD-TEE-03", alts[1].ProductID)
	assert.Equal(t, 55.0, alts[1].Price)
	assert.Contains(t, out.Message, "I found 2 great alternatives")
}

func TestExchangeRecommendationsUnavailable(t *testing.T) {
	ctx := context.Background()
	req := Request{Params: router.ExchangeParams{ExchangeType: "style"}, Now: now}

	out, err := NewExchange(ExchangePolicy{}, nil, nil, nil).Handle(ctx, sampleOrder(t, "ORD123"), req)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "couldn't find suitable alternatives")

	failing := keywordEmbedder{err: errors.New("embeddings down")}
	out, err = NewExchange(ExchangePolicy{}, nil, failing, capability.NewMemoryIndex()).Handle(ctx, sampleOrder(t, "ORD123"), req)
	require.NoError(t, err)
	assert.False(t, out.Success)
}

// sizedEmbedder returns a unit vector of the requested size.
type sizedEmbedder struct{}

func (sizedEmbedder) Embed(_ context.Context, _ string, dims int) ([]float32, error) {
	v := make([]float32, dims)
	v[0] = 1
	return v, nil
}

func TestExchangeDefaultDimensionsIndexThroughResilient(t *testing.T) {
	e := NewExchange(ExchangePolicy{}, nil, nil, nil)
	assert.Equal(t, 1536, e.Dimensions())

	emb := capability.NewResilient(capability.Set{Embedder: sizedEmbedder{}}, capability.Options{})
	idx := capability.NewMemoryIndex()
	require.NoError(t, IndexProducts(context.Background(), emb, idx, e.Dimensions(), SampleProducts()))
	assert.Equal(t, len(SampleProducts()), idx.Size())
}
