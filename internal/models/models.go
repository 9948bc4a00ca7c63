package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Technique classifies a product's production method and scopes offers and coupons.
type Technique string

const (
	TechniqueAll         Technique = "ALL"
	TechniqueSublimation Technique = "SUB"
	TechniqueLaser       Technique = "LAS"
	Technique3D          Technique = "3D"
	TechniqueOther       Technique = "OTR"
)

// Valid reports whether t is a concrete product technique (ALL is a scope, not a technique).
func (t Technique) Valid() bool {
	switch t {
	case TechniqueSublimation, TechniqueLaser, Technique3D, TechniqueOther:
		return true
	}
	return false
}

// ValidScope reports whether t can scope an offer or coupon.
func (t Technique) ValidScope() bool {
	return t == TechniqueAll || t.Valid()
}

// Product represents a catalog product
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Technique Technique       `db:"technique" json:"technique"`
	Stock     int             `db:"stock" json:"stock"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Variant is a purchasable option of a product with its own stock
type Variant struct {
	ID        int64               `db:"id" json:"id"`
	ProductID int64               `db:"product_id" json:"product_id"`
	Name      string              `db:"name" json:"name"`
	Price     decimal.NullDecimal `db:"price" json:"price"`
	Stock     int                 `db:"stock" json:"stock"`
	Active    bool                `db:"active" json:"active"`
	SortOrder int                 `db:"sort_order" json:"sort_order"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt time.Time           `db:"updated_at" json:"updated_at"`
}

// BasePrice returns the variant's own price, falling back to the product price.
func (v *Variant) BasePrice(p *Product) decimal.Decimal {
	if v != nil && v.Price.Valid {
		return v.Price.Decimal
	}
	return p.Price
}

// StockHold is a time-limited claim on units of a product line by one session
type StockHold struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	UserID    *int64    `db:"user_id" json:"user_id,omitempty"`
	ProductID int64     `db:"product_id" json:"product_id"`
	VariantID *int64    `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  int       `db:"quantity" json:"quantity"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Live reports whether the hold still counts against stock at now.
func (h *StockHold) Live(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

// OfferKind selects how an offer's magnitude is applied.
type OfferKind string

const (
	OfferPercent OfferKind = "PERCENT"
	OfferFixed   OfferKind = "FIXED"
)

// Offer is a time-bounded discount rule
type Offer struct {
	ID         int64           `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	Kind       OfferKind       `db:"kind" json:"kind"`
	Magnitude  decimal.Decimal `db:"magnitude" json:"magnitude"`
	Techniques pq.StringArray  `db:"techniques" json:"techniques"`
	StartsAt   time.Time       `db:"starts_at" json:"starts_at"`
	EndsAt     time.Time       `db:"ends_at" json:"ends_at"`
	Active     bool            `db:"active" json:"active"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// ActiveAt reports whether the offer is switched on and its window contains now.
func (o *Offer) ActiveAt(now time.Time) bool {
	return o.Active && !now.Before(o.StartsAt) && !now.After(o.EndsAt)
}

// AppliesTo reports whether the offer covers products of technique t.
// An empty technique set covers every technique.
func (o *Offer) AppliesTo(t Technique) bool {
	if len(o.Techniques) == 0 {
		return true
	}
	for _, s := range o.Techniques {
		if Technique(s) == TechniqueAll || Technique(s) == t {
			return true
		}
	}
	return false
}

// Coupon is a percentage discount code
type Coupon struct {
	ID        int64      `db:"id" json:"id"`
	Code      string     `db:"code" json:"code"`
	Percent   int        `db:"percent" json:"percent"`
	Technique Technique  `db:"technique" json:"technique"`
	StartsAt  time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt    *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	MaxUses   int        `db:"max_uses" json:"max_uses"`
	UsedCount int        `db:"used_count" json:"used_count"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Available reports whether the coupon can be applied at now.
func (c *Coupon) Available(now time.Time) bool {
	if !c.Active {
		return false
	}
	if now.Before(c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return c.UsedCount < c.MaxUses
}

// Order is the immutable snapshot of a priced cart at checkout
type Order struct {
	ID               int64           `db:"id" json:"id"`
	SessionID        string          `db:"session_id" json:"-"`
	UserID           *int64          `db:"user_id" json:"user_id,omitempty"`
	Total            decimal.Decimal `db:"total" json:"total"`
	Currency         string          `db:"currency" json:"currency"`
	CouponCode       string          `db:"coupon_code" json:"coupon_code,omitempty"`
	Discount         decimal.Decimal `db:"discount" json:"discount"`
	State            OrderState      `db:"state" json:"state"`
	StockDecremented bool            `db:"stock_decremented" json:"stock_decremented"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is a frozen priced line of an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	VariantID *int64          `db:"variant_id" json:"variant_id,omitempty"`
	SKU       string          `db:"sku" json:"sku"`
	Title     string          `db:"title" json:"title"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// PaymentRecord tracks the gateway side of an order
type PaymentRecord struct {
	ID           int64          `db:"id" json:"id"`
	OrderID      int64          `db:"order_id" json:"order_id"`
	PreferenceID string         `db:"preference_id" json:"preference_id"`
	CheckoutURL  string         `db:"checkout_url" json:"checkout_url"`
	PaymentID    string         `db:"payment_id" json:"payment_id,omitempty"`
	Status       string         `db:"status" json:"status,omitempty"`
	StatusDetail string         `db:"status_detail" json:"status_detail,omitempty"`
	Raw          types.JSONText `db:"raw" json:"-"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Cart is the session-scoped shopping cart: line quantities plus an optional
// coupon reference. It is passed explicitly into every cart operation and kept
// in step with the session's stock holds.
type Cart struct {
	SessionID string
	UserID    *int64
	Lines     map[LineKey]int
	CouponID  int64
}

// NewCart returns an empty cart for a session
func NewCart(sessionID string, userID *int64) *Cart {
	return &Cart{SessionID: sessionID, UserID: userID, Lines: make(map[LineKey]int)}
}

// Empty reports whether the cart has no lines
func (c *Cart) Empty() bool {
	return len(c.Lines) == 0
}
