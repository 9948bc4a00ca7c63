package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon covers unknown, inactive, out-of-window and used-up codes.
	ErrInvalidCoupon = errors.New("invalid or expired coupon")

	hundred = decimal.NewFromInt(100)
)

// Source looks coupons up. Both methods return (nil, nil) when nothing matches.
type Source interface {
	CouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CouponByID(ctx context.Context, id int64) (*models.Coupon, error)
}

// Engine validates coupon codes and references
type Engine struct {
	source Source
	now    func() time.Time
}

// NewEngine creates a coupon engine; a nil clock means time.Now.
func NewEngine(source Source, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{source: source, now: now}
}

// Lookup finds an available coupon by its case-insensitive code.
func (e *Engine) Lookup(ctx context.Context, code string) (*models.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}
	c, err := e.source.CouponByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up coupon: %w", err)
	}
	return e.check(c)
}

// Resolve re-validates a coupon previously attached to a cart.
func (e *Engine) Resolve(ctx context.Context, id int64) (*models.Coupon, error) {
	c, err := e.source.CouponByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	return e.check(c)
}

func (e *Engine) check(c *models.Coupon) (*models.Coupon, error) {
	if c == nil || !c.Available(e.now()) {
		return nil, ErrInvalidCoupon
	}
	return c, nil
}

// Line is one priced cart line as seen by the coupon engine
type Line struct {
	Technique      models.Technique
	Quantity       int
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	FinalAmount    decimal.Decimal
	FinalUnitPrice decimal.Decimal
}

// Result is the outcome of applying a coupon to a set of lines
type Result struct {
	Coupon   *models.Coupon
	Base     decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	Lines    []Line
}

// Eligible reports whether coupon c discounts lines of technique t.
func Eligible(c *models.Coupon, t models.Technique) bool {
	return c.Technique == models.TechniqueAll || c.Technique == t
}

// Apply computes the coupon discount over lines and prorates it across the
// eligible ones. A nil coupon leaves every line undiscounted. The input
// slice is not modified.
func Apply(c *models.Coupon, lines []Line) Result {
	out := make([]Line, len(lines))
	copy(out, lines)
	for i := range out {
		out[i].Discount = decimal.Zero
	}

	res := Result{Coupon: c, Base: decimal.Zero, Discount: decimal.Zero}
	if c != nil {
		var eligible []int
		for i := range out {
			if Eligible(c, out[i].Technique) {
				eligible = append(eligible, i)
				res.Base = res.Base.Add(out[i].Subtotal)
			}
		}

		if res.Base.IsPositive() {
			res.Discount = res.Base.Mul(decimal.NewFromInt(int64(c.Percent))).Div(hundred).Round(2)

			shares := make([]decimal.Decimal, len(eligible))
			for j, i := range eligible {
				shares[j] = out[i].Subtotal
			}
			for j, d := range Prorate(res.Discount, shares) {
				out[eligible[j]].Discount = d
			}
		}
	}

	res.Total = decimal.Zero
	for i := range out {
		out[i].FinalAmount = out[i].Subtotal.Sub(out[i].Discount).Round(2)
		if out[i].Quantity > 0 {
			out[i].FinalUnitPrice = out[i].FinalAmount.Div(decimal.NewFromInt(int64(out[i].Quantity))).Round(2)
		}
		res.Total = res.Total.Add(out[i].FinalAmount)
	}
	res.Lines = out
	return res
}

// Prorate splits amount across shares proportionally, rounding each part
// half-up to cents; the last share absorbs the remainder so the parts always
// sum to amount exactly.
func Prorate(amount decimal.Decimal, shares []decimal.Decimal) []decimal.Decimal {
	parts := make([]decimal.Decimal, len(shares))
	if len(shares) == 0 {
		return parts
	}

	base := decimal.Zero
	for _, s := range shares {
		base = base.Add(s)
	}
	if !base.IsPositive() {
		for i := range parts {
			parts[i] = decimal.Zero
		}
		parts[len(parts)-1] = amount
		return parts
	}

	remaining := amount
	last := len(shares) - 1
	for i, s := range shares[:last] {
		parts[i] = amount.Mul(s).Div(base).Round(2)
		remaining = remaining.Sub(parts[i])
	}
	parts[last] = remaining
	return parts
}
