package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderOversold      = "ORDER_OVERSOLD"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a cart is snapshotted into an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	UserID     *int64          `json:"user_id,omitempty"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	CouponCode string          `json:"coupon_code,omitempty"`
	Items      []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every order state transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64      `json:"order_id"`
	From    OrderState `json:"from"`
	To      OrderState `json:"to"`
	Source  string     `json:"source"`
}

// OrderOversoldEvent published when an approved order could not decrement all its lines
type OrderOversoldEvent struct {
	BaseEvent
	OrderID   int64       `json:"order_id"`
	PaymentID string      `json:"payment_id"`
	Short     []ShortLine `json:"short"`
}

// ShortLine is an order line whose guarded stock decrement failed
type ShortLine struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	VariantID *int64          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
