package service

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundredPercent = decimal.NewFromInt(100)

// CatalogAdmin is the persistence behind the owner panel
type CatalogAdmin interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	CreateProducts(ctx context.Context, products []models.Product) []store.BatchResult
	UpdateProduct(ctx context.Context, p *models.Product) error
	SetProductsActive(ctx context.Context, ids []int64, active bool) (int64, error)
	DeleteProducts(ctx context.Context, ids []int64) (int64, error)

	ListVariants(ctx context.Context, productID int64) ([]models.Variant, error)
	CreateVariant(ctx context.Context, v *models.Variant) error
	UpdateVariant(ctx context.Context, v *models.Variant) error
	DeleteVariant(ctx context.Context, productID, variantID int64) error

	ListOffers(ctx context.Context) ([]models.Offer, error)
	CreateOffer(ctx context.Context, o *models.Offer) error
	UpdateOffer(ctx context.Context, o *models.Offer) error
	DeleteOffer(ctx context.Context, id int64) error

	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	CreateCoupon(ctx context.Context, c *models.Coupon) error
	UpdateCoupon(ctx context.Context, c *models.Coupon) error
	DeleteCoupon(ctx context.Context, id int64) error

	ListOrders(ctx context.Context, state models.OrderState, limit int) ([]models.Order, error)
}

// OwnerService validates and applies owner panel changes
type OwnerService struct {
	store  CatalogAdmin
	logger *zap.Logger
}

func NewOwnerService(store CatalogAdmin) *OwnerService {
	return &OwnerService{store: store, logger: util.GetLogger()}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateProduct checks the fields an owner may set on a product
func ValidateProduct(p *models.Product) error {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.SKU == "":
		return invalid("sku is required")
	case p.Name == "":
		return invalid("name is required")
	case p.Price.IsNegative():
		return invalid("price must not be negative")
	case !p.Technique.Valid():
		return invalid("unknown technique %q", p.Technique)
	case p.Stock < 0:
		return invalid("stock must not be negative")
	}
	p.Price = p.Price.Round(2)
	return nil
}

func (s *OwnerService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.store.ListProducts(ctx, false)
}

// ProductDetail is a product with its variants
type ProductDetail struct {
	*models.Product
	Variants []models.Variant `json:"variants"`
}

func (s *OwnerService) GetProduct(ctx context.Context, id int64) (*ProductDetail, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	variants, err := s.store.ListVariants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ProductDetail{Product: p, Variants: variants}, nil
}

func (s *OwnerService) CreateProduct(ctx context.Context, p *models.Product) error {
	if err := ValidateProduct(p); err != nil {
		return err
	}
	return s.store.CreateProduct(ctx, p)
}

// CreateProducts validates and inserts a batch; failures are reported per item.
func (s *OwnerService) CreateProducts(ctx context.Context, products []models.Product) []store.BatchResult {
	results := make([]store.BatchResult, len(products))
	var valid []models.Product
	var index []int
	for i := range products {
		if err := ValidateProduct(&products[i]); err != nil {
			results[i] = store.BatchResult{Index: i, SKU: products[i].SKU, Error: err.Error()}
			continue
		}
		valid = append(valid, products[i])
		index = append(index, i)
	}

	for j, r := range s.store.CreateProducts(ctx, valid) {
		r.Index = index[j]
		results[index[j]] = r
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	s.logger.Info("Batch product import", zap.Int("items", len(products)), zap.Int("failed", failed))
	return results
}

func (s *OwnerService) UpdateProduct(ctx context.Context, p *models.Product) error {
	if err := ValidateProduct(p); err != nil {
		return err
	}
	return s.store.UpdateProduct(ctx, p)
}

// ToggleProduct flips a product's active flag
func (s *OwnerService) ToggleProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SetProductsActive(ctx, []int64{id}, !p.Active); err != nil {
		return nil, err
	}
	p.Active = !p.Active
	return p, nil
}

// Bulk actions accepted by BulkProducts.
const (
	BulkActivate   = "activate"
	BulkDeactivate = "deactivate"
	BulkDelete     = "delete"
)

// BulkProducts applies one action to many products and returns the affected count
func (s *OwnerService) BulkProducts(ctx context.Context, action string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, invalid("no products selected")
	}
	switch action {
	case BulkActivate:
		return s.store.SetProductsActive(ctx, ids, true)
	case BulkDeactivate:
		return s.store.SetProductsActive(ctx, ids, false)
	case BulkDelete:
		return s.store.DeleteProducts(ctx, ids)
	}
	return 0, invalid("unknown bulk action %q", action)
}

func (s *OwnerService) DeleteProduct(ctx context.Context, id int64) error {
	n, err := s.store.DeleteProducts(ctx, []int64{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func validateVariant(v *models.Variant) error {
	v.Name = strings.TrimSpace(v.Name)
	switch {
	case v.Name == "":
		return invalid("variant name is required")
	case v.Stock < 0:
		return invalid("stock must not be negative")
	case v.Price.Valid && v.Price.Decimal.IsNegative():
		return invalid("price must not be negative")
	}
	return nil
}

func (s *OwnerService) CreateVariant(ctx context.Context, v *models.Variant) error {
	if err := validateVariant(v); err != nil {
		return err
	}
	return s.store.CreateVariant(ctx, v)
}

func (s *OwnerService) UpdateVariant(ctx context.Context, v *models.Variant) error {
	if err := validateVariant(v); err != nil {
		return err
	}
	return s.store.UpdateVariant(ctx, v)
}

func (s *OwnerService) DeleteVariant(ctx context.Context, productID, variantID int64) error {
	return s.store.DeleteVariant(ctx, productID, variantID)
}

// ValidateOffer checks kind, magnitude, technique scope and window
func ValidateOffer(o *models.Offer) error {
	o.Name = strings.TrimSpace(o.Name)
	switch {
	case o.Name == "":
		return invalid("name is required")
	case o.Kind != models.OfferPercent && o.Kind != models.OfferFixed:
		return invalid("unknown offer kind %q", o.Kind)
	case o.Magnitude.IsNegative():
		return invalid("magnitude must not be negative")
	case o.Kind == models.OfferPercent && o.Magnitude.GreaterThan(hundredPercent):
		return invalid("percentage must be at most 100")
	case !o.EndsAt.After(o.StartsAt):
		return invalid("offer must end after it starts")
	}
	for _, t := range o.Techniques {
		if !models.Technique(t).ValidScope() {
			return invalid("unknown technique %q", t)
		}
	}
	if o.Techniques == nil {
		o.Techniques = []string{}
	}
	return nil
}

func (s *OwnerService) ListOffers(ctx context.Context) ([]models.Offer, error) {
	return s.store.ListOffers(ctx)
}

func (s *OwnerService) CreateOffer(ctx context.Context, o *models.Offer) error {
	if err := ValidateOffer(o); err != nil {
		return err
	}
	return s.store.CreateOffer(ctx, o)
}

func (s *OwnerService) UpdateOffer(ctx context.Context, o *models.Offer) error {
	if err := ValidateOffer(o); err != nil {
		return err
	}
	return s.store.UpdateOffer(ctx, o)
}

func (s *OwnerService) DeleteOffer(ctx context.Context, id int64) error {
	return s.store.DeleteOffer(ctx, id)
}

// ValidateCoupon checks code, percentage, scope, window and usage limit
func ValidateCoupon(c *models.Coupon) error {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Technique == "" {
		c.Technique = models.TechniqueAll
	}
	switch {
	case c.Code == "":
		return invalid("code is required")
	case c.Percent < 1 || c.Percent > 100:
		return invalid("percent must be between 1 and 100")
	case !c.Technique.ValidScope():
		return invalid("unknown technique %q", c.Technique)
	case c.MaxUses < 0:
		return invalid("max uses must not be negative")
	case c.EndsAt != nil && !c.EndsAt.After(c.StartsAt):
		return invalid("coupon must end after it starts")
	}
	return nil
}

func (s *OwnerService) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	return s.store.ListCoupons(ctx)
}

func (s *OwnerService) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	if err := ValidateCoupon(c); err != nil {
		return err
	}
	return s.store.CreateCoupon(ctx, c)
}

func (s *OwnerService) UpdateCoupon(ctx context.Context, c *models.Coupon) error {
	if err := ValidateCoupon(c); err != nil {
		return err
	}
	return s.store.UpdateCoupon(ctx, c)
}

func (s *OwnerService) DeleteCoupon(ctx context.Context, id int64) error {
	return s.store.DeleteCoupon(ctx, id)
}

// ListOrders returns recent orders for the owner, optionally by state
func (s *OwnerService) ListOrders(ctx context.Context, state models.OrderState, limit int) ([]models.Order, error) {
	if state != "" {
		if _, known := knownStates[state]; !known {
			return nil, invalid("unknown state %q", state)
		}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListOrders(ctx, state, limit)
}

var knownStates = map[models.OrderState]struct{}{
	models.OrderCreated: {}, models.OrderPending: {}, models.OrderApproved: {}, models.OrderRejected: {},
	models.OrderCancelled: {}, models.OrderExpired: {}, models.OrderOversold: {},
}

