package service

import (
	"context"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCatalog is the part of CatalogAdmin the owner tests touch
type memCatalog struct {
	CatalogAdmin
	products map[int64]*models.Product
	created  []models.Product
	coupons  []*models.Coupon
	offers   []*models.Offer
	limit    int
}

func (m *memCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memCatalog) CreateProduct(ctx context.Context, p *models.Product) error {
	m.created = append(m.created, *p)
	return nil
}

func (m *memCatalog) CreateProducts(ctx context.Context, products []models.Product) []store.BatchResult {
	out := make([]store.BatchResult, len(products))
	for i, p := range products {
		out[i] = store.BatchResult{Index: i, SKU: p.SKU}
		if p.SKU == "TAKEN" {
			out[i].Error = store.ErrDuplicateSKU.Error()
			continue
		}
		cp := p
		out[i].Product = &cp
	}
	return out
}

func (m *memCatalog) SetProductsActive(ctx context.Context, ids []int64, active bool) (int64, error) {
	var n int64
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			p.Active = active
			n++
		}
	}
	return n, nil
}

func (m *memCatalog) DeleteProducts(ctx context.Context, ids []int64) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := m.products[id]; ok {
			delete(m.products, id)
			n++
		}
	}
	return n, nil
}

func (m *memCatalog) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	for _, existing := range m.coupons {
		if existing.Code == c.Code {
			return store.ErrDuplicateCode
		}
	}
	m.coupons = append(m.coupons, c)
	return nil
}

func (m *memCatalog) CreateOffer(ctx context.Context, o *models.Offer) error {
	m.offers = append(m.offers, o)
	return nil
}

func (m *memCatalog) ListOrders(ctx context.Context, state models.OrderState, limit int) ([]models.Order, error) {
	m.limit = limit
	return nil, nil
}

func newOwner() (*OwnerService, *memCatalog) {
	m := &memCatalog{products: map[int64]*models.Product{
		1: {ID: 1, SKU: "MUG", Name: "Mug", Price: decimal.NewFromInt(50), Technique: models.TechniqueSublimation, Active: true},
		2: {ID: 2, SKU: "TAG", Name: "Tag", Price: decimal.NewFromInt(10), Technique: models.TechniqueLaser, Active: true},
	}}
	return NewOwnerService(m), m
}

func TestValidateProduct(t *testing.T) {
	ok := models.Product{SKU: " MUG-2 ", Name: "Mug", Price: decimal.RequireFromString("12.345"), Technique: models.TechniqueLaser}
	require.NoError(t, ValidateProduct(&ok))
	assert.Equal(t, "MUG-2", ok.SKU)
	assert.Equal(t, "12.35", ok.Price.StringFixed(2))

	cases := map[string]models.Product{
		"no sku":          {Name: "x", Technique: models.TechniqueLaser},
		"negative price":  {SKU: "a", Name: "x", Price: decimal.NewFromInt(-1), Technique: models.TechniqueLaser},
		"scope technique": {SKU: "a", Name: "x", Technique: models.TechniqueAll},
		"negative stock":  {SKU: "a", Name: "x", Technique: models.TechniqueLaser, Stock: -1},
	}
	for name, p := range cases {
		p := p
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateProduct(&p), ErrValidation)
		})
	}
}

func TestCreateProductsReportsPerItem(t *testing.T) {
	svc, _ := newOwner()
	results := svc.CreateProducts(context.Background(), []models.Product{
		{SKU: "NEW", Name: "New", Price: decimal.NewFromInt(5), Technique: models.Technique3D},
		{SKU: "", Name: "Broken", Technique: models.Technique3D},
		{SKU: "TAKEN", Name: "Dup", Price: decimal.NewFromInt(5), Technique: models.Technique3D},
	})

	require.Len(t, results, 3)
	assert.Empty(t, results[0].Error)
	assert.NotNil(t, results[0].Product)
	assert.Contains(t, results[1].Error, "sku is required")
	assert.Equal(t, 2, results[2].Index)
	assert.Equal(t, store.ErrDuplicateSKU.Error(), results[2].Error)
}

func TestToggleAndBulkProducts(t *testing.T) {
	svc, m := newOwner()
	ctx := context.Background()

	p, err := svc.ToggleProduct(ctx, 1)
	require.NoError(t, err)
	assert.False(t, p.Active)
	assert.False(t, m.products[1].Active)

	n, err := svc.BulkProducts(ctx, BulkActivate, []int64{1, 2, 99})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = svc.BulkProducts(ctx, "explode", []int64{1})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.BulkProducts(ctx, BulkDelete, nil)
	assert.ErrorIs(t, err, ErrValidation)

	n, err = svc.BulkProducts(ctx, BulkDelete, []int64{2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.ErrorIs(t, svc.DeleteProduct(ctx, 2), store.ErrNotFound)
}

func TestCouponValidationAndDuplicates(t *testing.T) {
	svc, _ := newOwner()
	ctx := context.Background()

	c := &models.Coupon{Code: " welcome10 ", Percent: 10, MaxUses: 5, StartsAt: time.Now()}
	require.NoError(t, svc.CreateCoupon(ctx, c))
	assert.Equal(t, "WELCOME10", c.Code)
	assert.Equal(t, models.TechniqueAll, c.Technique)

	dup := &models.Coupon{Code: "WELCOME10", Percent: 5, MaxUses: 1, StartsAt: time.Now()}
	assert.ErrorIs(t, svc.CreateCoupon(ctx, dup), store.ErrDuplicateCode)

	for _, pct := range []int{0, 101} {
		bad := &models.Coupon{Code: "X", Percent: pct, StartsAt: time.Now()}
		assert.ErrorIs(t, svc.CreateCoupon(ctx, bad), ErrValidation)
	}

	past := time.Now().Add(-time.Hour)
	backwards := &models.Coupon{Code: "Y", Percent: 5, StartsAt: time.Now(), EndsAt: &past}
	assert.ErrorIs(t, svc.CreateCoupon(ctx, backwards), ErrValidation)
}

func TestOfferValidation(t *testing.T) {
	svc, m := newOwner()
	ctx := context.Background()
	start := time.Now()

	ok := &models.Offer{Name: "Sale", Kind: models.OfferPercent, Magnitude: decimal.NewFromInt(20),
		StartsAt: start, EndsAt: start.Add(time.Hour), Active: true}
	require.NoError(t, svc.CreateOffer(ctx, ok))
	assert.NotNil(t, m.offers[0].Techniques)

	bad := []*models.Offer{
		{Name: "Kind", Kind: "BOGO", StartsAt: start, EndsAt: start.Add(time.Hour)},
		{Name: "Big", Kind: models.OfferPercent, Magnitude: decimal.NewFromInt(150), StartsAt: start, EndsAt: start.Add(time.Hour)},
		{Name: "Window", Kind: models.OfferFixed, Magnitude: decimal.NewFromInt(5), StartsAt: start, EndsAt: start},
		{Name: "Scope", Kind: models.OfferFixed, Magnitude: decimal.NewFromInt(5), StartsAt: start, EndsAt: start.Add(time.Hour), Techniques: []string{"WOOD"}},
	}
	for _, o := range bad {
		assert.ErrorIs(t, svc.CreateOffer(ctx, o), ErrValidation, o.Name)
	}
}

func TestOwnerListOrders(t *testing.T) {
	svc, m := newOwner()
	ctx := context.Background()

	_, err := svc.ListOrders(ctx, models.OrderOversold, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, m.limit)

	_, err = svc.ListOrders(ctx, "SHIPPED", 10)
	assert.ErrorIs(t, err, ErrValidation)
}
