// Package pricing resolves the unit price a shopper pays for a product line
// before any coupon: base price, then the first matching active offer.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// OfferSource lists offers whose window contains now and that are switched on.
type OfferSource interface {
	ActiveOffers(ctx context.Context, now time.Time) ([]models.Offer, error)
}

// Quote is the resolved price of one unit
type Quote struct {
	Original decimal.Decimal `json:"original_price"`
	Final    decimal.Decimal `json:"final_price"`
	Offer    *models.Offer   `json:"offer,omitempty"`
}

// Discounted reports whether an offer changed the price.
func (q Quote) Discounted() bool {
	return q.Offer != nil
}

// Resolver loads offers and builds price books
type Resolver struct {
	offers OfferSource
	now    func() time.Time
}

// NewResolver creates a resolver; a nil clock means time.Now.
func NewResolver(offers OfferSource, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{offers: offers, now: now}
}

// PriceBook snapshots the offers active right now. Use one book per request.
func (r *Resolver) PriceBook(ctx context.Context) (*PriceBook, error) {
	now := r.now()
	offers, err := r.offers.ActiveOffers(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active offers: %w", err)
	}
	return NewPriceBook(offers, now), nil
}

// ResolvePrice resolves a single product line with a fresh book.
func (r *Resolver) ResolvePrice(ctx context.Context, p *models.Product, v *models.Variant) (Quote, error) {
	book, err := r.PriceBook(ctx)
	if err != nil {
		return Quote{}, err
	}
	return book.Resolve(p, v), nil
}

// PriceBook applies a fixed set of offers. It memoizes per line and is not
// safe for concurrent use.
type PriceBook struct {
	offers []models.Offer
	memo   map[models.LineKey]Quote
}

// NewPriceBook keeps the offers active at now in primary-key order.
func NewPriceBook(offers []models.Offer, now time.Time) *PriceBook {
	active := make([]models.Offer, 0, len(offers))
	for _, o := range offers {
		if o.ActiveAt(now) {
			active = append(active, o)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	return &PriceBook{
		offers: active,
		memo:   make(map[models.LineKey]Quote),
	}
}

// Resolve returns the quote for product p (and variant v, which may be nil).
// The first offer covering the product's technique wins, not the cheapest.
func (b *PriceBook) Resolve(p *models.Product, v *models.Variant) Quote {
	var variantID *int64
	if v != nil {
		variantID = &v.ID
	}
	key := models.NewLineKey(p.ID, variantID)
	if q, ok := b.memo[key]; ok {
		return q
	}

	original := v.BasePrice(p)
	q := Quote{Original: original, Final: original}
	for i := range b.offers {
		o := &b.offers[i]
		if !o.AppliesTo(p.Technique) {
			continue
		}
		q.Final = Apply(o, original)
		q.Offer = o
		break
	}

	b.memo[key] = q
	return q
}

// Apply computes the discounted price of original under offer o, rounded
// half-up to cents.
func Apply(o *models.Offer, original decimal.Decimal) decimal.Decimal {
	switch o.Kind {
	case models.OfferPercent:
		return original.Mul(hundred.Sub(o.Magnitude)).Div(hundred).Round(2)
	case models.OfferFixed:
		return decimal.Max(original.Sub(o.Magnitude), decimal.Zero).Round(2)
	default:
		return original
	}
}
