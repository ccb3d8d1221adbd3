package specialist

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/orderguardian/internal/capability"
)

// Product is a catalogue entry used for recommendations.
type Product struct {
	ID          string  `json:"product_id" koanf:"product_id"`
	Name        string  `json:"name" koanf:"name"`
	Category    string  `json:"category" koanf:"category"`
	Description string  `json:"description" koanf:"description"`
	Price       float64 `json:"price" koanf:"price"`
}

// Indexer stores product vectors.
type Indexer interface {
	Upsert(id string, vector []float32, metadata map[string]string)
}

// IndexProducts embeds every product and stores it in idx with the metadata
// the exchange specialist reads back.
func IndexProducts(ctx context.Context, emb capability.Embedder, idx Indexer, dims int, products []Product) error {
	for _, p := range products {
		text := strings.Join(nonEmpty(p.Name, p.Category, p.Description), " ")
		vec, err := emb.Embed(ctx, text, dims)
		if err != nil {
			return fmt.Errorf("embed product %s: %w", p.ID, err)
		}
		idx.Upsert(p.ID, vec, map[string]string{
			"type":       "product",
			"product_id": p.ID,
			"name":       p.Name,
			"category":   p.Category,
			"price":      strconv.FormatFloat(p.Price, 'f', 2, 64),
		})
	}
	return nil
}

// SampleProducts is the demo catalogue matching SampleOrders.
func SampleProducts() []Product {
	return []Product{
		{ID: "PROD-TEE-01", Name: "Classic Cotton Tee", Category: "Apparel", Description: "Soft crew neck cotton t-shirt", Price: 40},
		{ID: "PROD-TEE-02", Name: "Organic Pocket Tee", Category: "Apparel", Description: "Relaxed organic cotton t-shirt with chest pocket", Price: 38},
		{ID: "PROD-TEE-03", Name: "Performance Running Tee", Category: "Apparel", Description: "Lightweight moisture wicking running shirt", Price: 55},
		{ID: "PROD-JKT-02", Name: "Trail Rain Jacket", Category: "Outerwear", Description: "Waterproof breathable hiking shell", Price: 129},
		{ID: "PROD-JKT-04", Name: "Packable Wind Jacket", Category: "Outerwear", Description: "Ultralight packable windbreaker", Price: 89},
		{ID: "PROD-DRS-03", Name: "Linen Summer Dress", Category: "Dresses", Description: "Breathable linen midi dress", Price: 89},
	}
}
