package specialist

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Order is the order record handed to specialists.
type Order struct {
	OrderID       string     `json:"order_id" koanf:"order_id"`
	CustomerID    string     `json:"customer_id" koanf:"customer_id"`
	ProductID     string     `json:"product_id" koanf:"product_id"`
	ProductName   string     `json:"product_name" koanf:"product_name"`
	Description   string     `json:"description,omitempty" koanf:"description"`
	Category      string     `json:"category" koanf:"category"`
	Size          string     `json:"size,omitempty" koanf:"size"`
	Color         string     `json:"color,omitempty" koanf:"color"`
	Status        string     `json:"status" koanf:"status"`
	Total         float64    `json:"total" koanf:"total"`
	ShippingCost  float64    `json:"shipping_cost" koanf:"shipping_cost"`
	PaymentMethod string     `json:"payment_method,omitempty" koanf:"payment_method"`
	OrderDate     time.Time  `json:"order_date" koanf:"order_date"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty" koanf:"delivered_at"`
	ExchangeCount int        `json:"exchange_count" koanf:"exchange_count"`
	Tracking      *Tracking  `json:"tracking,omitempty" koanf:"tracking"`
}

// Found reports whether o refers to a real order.
func (o Order) Found() bool { return o.OrderID != "" }

// Tracking is the carrier view of a shipment.
type Tracking struct {
	Carrier          string          `json:"carrier"`
	TrackingNumber   string          `json:"tracking_number"`
	Location         string          `json:"current_location"`
	ShippedAt        time.Time       `json:"shipped_at"`
	ExpectedDelivery time.Time       `json:"expected_delivery"`
	Events           []TrackingEvent `json:"events"`
	Delay            *Delay          `json:"delay,omitempty"`
}

type TrackingEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location"`
	Status    string    `json:"status"`
}

type Delay struct {
	Reason string `json:"reason"`
	Days   int    `json:"estimated_delay_days"`
}

// OrderLookup resolves order ids.
type OrderLookup interface {
	Order(ctx context.Context, orderID string) (Order, error)
}

// MemoryOrders is an in-process order catalogue.
type MemoryOrders struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryOrders(orders ...Order) *MemoryOrders {
	m := &MemoryOrders{orders: make(map[string]Order, len(orders))}
	for _, o := range orders {
		m.Put(o)
	}
	return m
}

func (m *MemoryOrders) Put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[strings.ToUpper(o.OrderID)] = o
}

func (m *MemoryOrders) Order(_ context.Context, orderID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[strings.ToUpper(orderID)]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

// Inventory reports variant availability.
type Inventory interface {
	InStock(ctx context.Context, productID string, v Variant) (bool, error)
}

// Variant identifies a purchasable option of a product.
type Variant struct {
	Size  string
	Color string
}

func (v Variant) key(productID string) string {
	return strings.ToLower(productID + "|" + v.Size + "|" + v.Color)
}

// MemoryInventory keeps stock counts in memory. Unknown variants are out of
// stock.
type MemoryInventory struct {
	mu    sync.RWMutex
	stock map[string]int
}

func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{stock: make(map[string]int)}
}

func (m *MemoryInventory) Set(productID string, v Variant, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[v.key(productID)] = qty
}

func (m *MemoryInventory) InStock(_ context.Context, productID string, v Variant) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stock[v.key(productID)] > 0, nil
}

// SampleOrders returns the demo catalogue used by the chat command and the
// development server. Dates are relative to now.
func SampleOrders(now time.Time) []Order {
	day := 24 * time.Hour
	delivered := now.Add(-5 * day)
	return []Order{
		{
			OrderID: "ORD123", CustomerID: "CUST001", ProductID: "PROD-TEE-01",
			ProductName: "Classic Cotton Tee", Category: "Apparel", Size: "M", Color: "Navy",
			Status: "in_transit", Total: 45.00, ShippingCost: 5.00, PaymentMethod: "Visa ending 4242",
			OrderDate: now.Add(-9 * day),
			Tracking: &Tracking{
				Carrier: "UPS", TrackingNumber: "TRKORD123", Location: "Distribution Center - Chicago, IL",
				ShippedAt: now.Add(-8 * day), ExpectedDelivery: now.Add(-2 * day),
				Events: []TrackingEvent{
					{Timestamp: now.Add(-8 * day), Location: "Warehouse", Status: "Shipment picked up"},
					{Timestamp: now.Add(-7 * day), Location: "Distribution Hub", Status: "Arrived at facility"},
					{Timestamp: now.Add(-4 * day), Location: "Chicago, IL", Status: "Package in transit"},
				},
			},
		},
		{
			OrderID: "ORD456", CustomerID: "CUST002", ProductID: "PROD-JKT-02",
			ProductName: "Trail Rain Jacket", Category: "Outerwear", Size: "L", Color: "Olive",
			Status: "delivered", Total: 129.00, ShippingCost: 0, PaymentMethod: "Mastercard ending 1881",
			OrderDate: now.Add(-12 * day), DeliveredAt: &delivered,
			Tracking: &Tracking{
				Carrier: "FedEx", TrackingNumber: "TRKORD456", Location: "Delivered",
				ShippedAt: now.Add(-10 * day), ExpectedDelivery: now.Add(-5 * day),
				Events: []TrackingEvent{
					{Timestamp: now.Add(-10 * day), Location: "Warehouse", Status: "Shipment picked up"},
					{Timestamp: now.Add(-5 * day), Location: "Front door", Status: "Delivered"},
				},
			},
		},
		{
			OrderID: "ORD789", CustomerID: "CUST003", ProductID: "PROD-DRS-03",
			ProductName: "Linen Summer Dress", Category: "Final Sale", Size: "S", Color: "White",
			Status: "delivered", Total: 89.00, ShippingCost: 7.99,
			OrderDate: now.Add(-40 * day), DeliveredAt: &delivered,
		},
	}
}

// SampleInventory stocks a few variants of the sample orders' products.
func SampleInventory() *MemoryInventory {
	inv := NewMemoryInventory()
	for _, size := range []string{"S", "M", "L", "XL"} {
		inv.Set("PROD-TEE-01", Variant{Size: size, Color: "Navy"}, 10)
	}
	inv.Set("PROD-TEE-01", Variant{Size: "L", Color: "Black"}, 4)
	inv.Set("PROD-JKT-02", Variant{Size: "XL", Color: "Olive"}, 3)
	inv.Set("PROD-JKT-02", Variant{Size: "M", Color: "Olive"}, 2)
	return inv
}
