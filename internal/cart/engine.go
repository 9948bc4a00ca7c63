// Package cart implements the session cart: every mutation is capped by and
// mirrored into a stock hold, and rendering prices each line through the
// offer resolver and the attached coupon.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront/internal/coupon"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HoldTTL is how long a cart line reserves stock after its last change.
const HoldTTL = 30 * time.Minute

var (
	// ErrNoStock is returned by Add when nothing is left for the session.
	ErrNoStock = errors.New("no stock available")
	// ErrUnavailable is returned when a product or variant is missing or inactive.
	ErrUnavailable = errors.New("product unavailable")
)

// Catalog reads products and variants; missing rows return store.ErrNotFound.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetVariant(ctx context.Context, productID, variantID int64) (*models.Variant, error)
}

// Engine runs cart operations against a session's *models.Cart
type Engine struct {
	catalog Catalog
	holds   ledger.Reservations
	prices  *pricing.Resolver
	coupons *coupon.Engine
	logger  *zap.Logger
}

func NewEngine(catalog Catalog, holds ledger.Reservations, prices *pricing.Resolver, coupons *coupon.Engine) *Engine {
	return &Engine{
		catalog: catalog,
		holds:   holds,
		prices:  prices,
		coupons: coupons,
		logger:  util.Component("cart"),
	}
}

func (e *Engine) sweep(ctx context.Context) error {
	_, err := e.holds.SweepExpired(ctx)
	return err
}

// lookup returns the product and, for variant lines, the variant. Missing or
// inactive rows yield ErrUnavailable.
func (e *Engine) lookup(ctx context.Context, key models.LineKey) (*models.Product, *models.Variant, error) {
	p, err := e.catalog.GetProduct(ctx, key.ProductID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !p.Active) {
		return nil, nil, ErrUnavailable
	}
	if err != nil {
		return nil, nil, err
	}
	if !key.HasVariant {
		return p, nil, nil
	}
	v, err := e.catalog.GetVariant(ctx, key.ProductID, key.VariantID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !v.Active) {
		return p, nil, ErrUnavailable
	}
	if err != nil {
		return nil, nil, err
	}
	return p, v, nil
}

func (e *Engine) hold(ctx context.Context, cart *models.Cart, key models.LineKey, qty int) error {
	return e.holds.Hold(ctx, ledger.HoldRequest{
		SessionID: cart.SessionID,
		UserID:    cart.UserID,
		Key:       key,
		Quantity:  qty,
		TTL:       HoldTTL,
	})
}

// Add raises a line by qty, clamped to what the session may hold. A
// non-positive qty is treated as 1.
func (e *Engine) Add(ctx context.Context, cart *models.Cart, key models.LineKey, qty int) ([]Notice, error) {
	util.CartMutationsTotal.WithLabelValues("add").Inc()
	if err := e.sweep(ctx); err != nil {
		return nil, err
	}
	if qty <= 0 {
		qty = 1
	}
	if _, _, err := e.lookup(ctx, key); err != nil {
		return nil, err
	}

	capacity, err := e.holds.CapacityForSession(ctx, cart.SessionID, key)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		util.CartNoStockTotal.Inc()
		return nil, ErrNoStock
	}

	want := cart.Lines[key] + qty
	newQty := want
	var notices []Notice
	if newQty > capacity {
		newQty = capacity
		notices = append(notices, clampNotice(key, want, capacity))
	}

	if err := e.hold(ctx, cart, key, newQty); err != nil {
		return nil, err
	}
	cart.Lines[key] = newQty
	return notices, nil
}

// SetQuantity sets a line to qty, clamped to what the session may hold.
// A non-positive qty removes the line.
func (e *Engine) SetQuantity(ctx context.Context, cart *models.Cart, key models.LineKey, qty int) ([]Notice, error) {
	if qty <= 0 {
		return nil, e.Remove(ctx, cart, key)
	}
	util.CartMutationsTotal.WithLabelValues("set").Inc()
	if err := e.sweep(ctx); err != nil {
		return nil, err
	}
	if _, _, err := e.lookup(ctx, key); err != nil {
		if errors.Is(err, ErrUnavailable) {
			if rerr := e.drop(ctx, cart, key); rerr != nil {
				return nil, rerr
			}
		}
		return nil, err
	}

	capacity, err := e.holds.CapacityForSession(ctx, cart.SessionID, key)
	if err != nil {
		return nil, err
	}

	var notices []Notice
	newQty := qty
	if newQty > capacity {
		newQty = capacity
		notices = append(notices, clampNotice(key, qty, capacity))
	}
	if newQty <= 0 {
		return notices, e.drop(ctx, cart, key)
	}

	if err := e.hold(ctx, cart, key, newQty); err != nil {
		return nil, err
	}
	cart.Lines[key] = newQty
	return notices, nil
}

// Remove deletes a line and its hold
func (e *Engine) Remove(ctx context.Context, cart *models.Cart, key models.LineKey) error {
	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	if err := e.sweep(ctx); err != nil {
		return err
	}
	return e.drop(ctx, cart, key)
}

func (e *Engine) drop(ctx context.Context, cart *models.Cart, key models.LineKey) error {
	if err := e.holds.Release(ctx, cart.SessionID, key); err != nil {
		return err
	}
	delete(cart.Lines, key)
	return nil
}

// Clear empties the cart and releases every hold of the session. The coupon
// reference is kept.
func (e *Engine) Clear(ctx context.Context, cart *models.Cart) error {
	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	if err := e.sweep(ctx); err != nil {
		return err
	}
	if err := e.holds.ReleaseAll(ctx, cart.SessionID); err != nil {
		return err
	}
	cart.Lines = make(map[models.LineKey]int)
	return nil
}

// ApplyCoupon attaches the coupon with the given code. An unknown or
// unavailable code detaches any previous coupon and yields a notice, not an error.
func (e *Engine) ApplyCoupon(ctx context.Context, cart *models.Cart, code string) ([]Notice, error) {
	util.CartMutationsTotal.WithLabelValues("coupon").Inc()
	c, err := e.coupons.Lookup(ctx, code)
	if errors.Is(err, coupon.ErrInvalidCoupon) {
		cart.CouponID = 0
		return []Notice{couponNotice()}, nil
	}
	if err != nil {
		return nil, err
	}
	cart.CouponID = c.ID
	return nil, nil
}

// RemoveCoupon detaches the cart's coupon
func (e *Engine) RemoveCoupon(cart *models.Cart) {
	cart.CouponID = 0
}

// Line is one priced cart line
type Line struct {
	Key            string           `json:"key"`
	ProductID      int64            `json:"product_id"`
	VariantID      *int64           `json:"variant_id,omitempty"`
	SKU            string           `json:"sku"`
	Title          string           `json:"title"`
	Technique      models.Technique `json:"technique"`
	Quantity       int              `json:"quantity"`
	OriginalPrice  decimal.Decimal  `json:"original_price"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	OfferID        *int64           `json:"offer_id,omitempty"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	Discount       decimal.Decimal  `json:"coupon_discount"`
	FinalAmount    decimal.Decimal  `json:"final_amount"`
	FinalUnitPrice decimal.Decimal  `json:"final_unit_price"`
	// Available is a display-only snapshot of effective stock.
	Available int `json:"available"`
}

// View is the rendered cart
type View struct {
	Lines      []Line          `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	CouponCode string          `json:"coupon_code,omitempty"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
	Notices    []Notice        `json:"notices,omitempty"`
}

// Render prices every live line. Lines whose product is gone or inactive are
// dropped from the cart along with their hold; lines whose variant is gone or
// inactive are folded back onto the bare product. Every remaining line is
// matched against the session's live hold before it is priced, so the cart
// never shows stock the session does not hold.
func (e *Engine) Render(ctx context.Context, cart *models.Cart) (*View, error) {
	if err := e.sweep(ctx); err != nil {
		return nil, err
	}
	book, err := e.prices.PriceBook(ctx)
	if err != nil {
		return nil, err
	}

	view := &View{Subtotal: decimal.Zero, Discount: decimal.Zero, Total: decimal.Zero}

	type resolved struct {
		p *models.Product
		v *models.Variant
	}
	live := make(map[models.LineKey]resolved, len(cart.Lines))
	for _, key := range sortedKeys(cart.Lines) {
		p, v, err := e.lookup(ctx, key)
		switch {
		case err == nil:
			live[key] = resolved{p, v}
		case errors.Is(err, ErrUnavailable) && p != nil:
			bare, qty, err := e.fold(ctx, cart, key, cart.Lines[key])
			if err != nil {
				return nil, err
			}
			if qty <= 0 {
				view.Notices = append(view.Notices, droppedNotice(key))
				continue
			}
			live[bare] = resolved{p: p}
		case errors.Is(err, ErrUnavailable):
			if err := e.drop(ctx, cart, key); err != nil {
				return nil, err
			}
			view.Notices = append(view.Notices, droppedNotice(key))
		default:
			return nil, err
		}
	}

	var lines []Line
	for _, key := range sortedKeys(cart.Lines) {
		r, ok := live[key]
		if !ok {
			continue
		}
		qty, notice, err := e.reconcile(ctx, cart, key)
		if err != nil {
			return nil, err
		}
		if notice != nil {
			view.Notices = append(view.Notices, *notice)
		}
		if qty <= 0 {
			continue
		}
		p, v := r.p, r.v

		avail, err := e.holds.EffectiveAvailable(ctx, key)
		if err != nil {
			return nil, err
		}

		q := book.Resolve(p, v)
		line := Line{
			Key:           key.String(),
			ProductID:     p.ID,
			VariantID:     key.Variant(),
			SKU:           p.SKU,
			Title:         title(p, v),
			Technique:     p.Technique,
			Quantity:      qty,
			OriginalPrice: q.Original,
			UnitPrice:     q.Final,
			Subtotal:      q.Final.Mul(decimal.NewFromInt(int64(qty))).Round(2),
			Available:     avail,
		}
		if q.Offer != nil {
			id := q.Offer.ID
			line.OfferID = &id
		}
		lines = append(lines, line)
	}

	var attached *models.Coupon
	if cart.CouponID > 0 {
		attached, err = e.coupons.Resolve(ctx, cart.CouponID)
		if errors.Is(err, coupon.ErrInvalidCoupon) {
			cart.CouponID = 0
			view.Notices = append(view.Notices, couponNotice())
		} else if err != nil {
			return nil, err
		}
	}

	in := make([]coupon.Line, len(lines))
	for i, l := range lines {
		in[i] = coupon.Line{Technique: l.Technique, Quantity: l.Quantity, Subtotal: l.Subtotal}
		view.Subtotal = view.Subtotal.Add(l.Subtotal)
	}
	res := coupon.Apply(attached, in)
	for i := range lines {
		lines[i].Discount = res.Lines[i].Discount
		lines[i].FinalAmount = res.Lines[i].FinalAmount
		lines[i].FinalUnitPrice = res.Lines[i].FinalUnitPrice
	}
	if attached != nil {
		view.CouponCode = attached.Code
	}
	view.Discount = res.Discount
	view.Total = res.Total
	view.Lines = lines
	if view.Lines == nil {
		view.Lines = []Line{}
	}
	return view, nil
}

// reconcile makes a line agree with the session's live hold. A lapsed or short
// hold is taken again up to the session's capacity; when nothing is left the
// line is dropped. It returns the quantity the line now holds.
func (e *Engine) reconcile(ctx context.Context, cart *models.Cart, key models.LineKey) (int, *Notice, error) {
	qty := cart.Lines[key]
	mine, err := e.holds.MyReserved(ctx, cart.SessionID, key)
	if err != nil {
		return 0, nil, err
	}
	if mine == qty {
		return qty, nil, nil
	}

	capacity, err := e.holds.CapacityForSession(ctx, cart.SessionID, key)
	if err != nil {
		return 0, nil, err
	}
	newQty := qty
	if newQty > capacity {
		newQty = capacity
	}
	if newQty <= 0 {
		if err := e.drop(ctx, cart, key); err != nil {
			return 0, nil, err
		}
		n := lapsedNotice(key)
		return 0, &n, nil
	}

	if err := e.hold(ctx, cart, key, newQty); err != nil {
		return 0, nil, err
	}
	cart.Lines[key] = newQty
	e.logger.Info("Re-held cart line",
		zap.String("session_id", cart.SessionID),
		zap.String("key", key.String()),
		zap.Int("held", mine),
		zap.Int("quantity", newQty))
	if newQty < qty {
		n := clampNotice(key, qty, capacity)
		return newQty, &n, nil
	}
	return newQty, nil, nil
}

// fold moves a line whose variant became unavailable onto the bare product,
// clamped to the session's capacity there. It returns the new key and quantity;
// zero means the line was dropped.
func (e *Engine) fold(ctx context.Context, cart *models.Cart, key models.LineKey, qty int) (models.LineKey, int, error) {
	if err := e.drop(ctx, cart, key); err != nil {
		return key, 0, err
	}
	bare := key.WithoutVariant()
	capacity, err := e.holds.CapacityForSession(ctx, cart.SessionID, bare)
	if err != nil {
		return bare, 0, err
	}
	newQty := cart.Lines[bare] + qty
	if newQty > capacity {
		newQty = capacity
	}
	if newQty <= 0 {
		return bare, 0, e.drop(ctx, cart, bare)
	}
	if err := e.hold(ctx, cart, bare, newQty); err != nil {
		return bare, 0, err
	}
	cart.Lines[bare] = newQty
	e.logger.Info("Folded inactive variant line",
		zap.String("from", key.String()), zap.Int("quantity", newQty))
	return bare, newQty, nil
}

func title(p *models.Product, v *models.Variant) string {
	if v == nil {
		return p.Name
	}
	return fmt.Sprintf("%s - %s", p.Name, v.Name)
}

func sortedKeys(lines map[models.LineKey]int) []models.LineKey {
	keys := make([]models.LineKey, 0, len(lines))
	for k := range lines {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		if keys[i].HasVariant != keys[j].HasVariant {
			return !keys[i].HasVariant
		}
		return keys[i].VariantID < keys[j].VariantID
	})
	return keys
}
