package store

import (
	"context"
	"strings"
	"time"

	"storefront/internal/models"
)

const offerColumns = `id, name, kind, magnitude, techniques, starts_at, ends_at, active, created_at`

const couponColumns = `id, code, percent, technique, starts_at, ends_at, max_uses, used_count, active, created_at`

// ActiveOffers returns switched-on offers whose window contains now, in id order
func (s *Store) ActiveOffers(ctx context.Context, now time.Time) ([]models.Offer, error) {
	offers := []models.Offer{}
	err := s.db.SelectContext(ctx, &offers,
		"SELECT "+offerColumns+" FROM offers WHERE active AND starts_at <= $1 AND ends_at >= $1 ORDER BY id",
		now)
	return offers, err
}

// ListOffers returns every offer in id order
func (s *Store) ListOffers(ctx context.Context) ([]models.Offer, error) {
	offers := []models.Offer{}
	err := s.db.SelectContext(ctx, &offers, "SELECT "+offerColumns+" FROM offers ORDER BY id")
	return offers, err
}

// CreateOffer inserts an offer
func (s *Store) CreateOffer(ctx context.Context, o *models.Offer) error {
	query := `
		INSERT INTO offers (name, kind, magnitude, techniques, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, o, query,
		o.Name, o.Kind, o.Magnitude, o.Techniques, o.StartsAt, o.EndsAt, o.Active)
}

// UpdateOffer overwrites an offer
func (s *Store) UpdateOffer(ctx context.Context, o *models.Offer) error {
	query := `
		UPDATE offers
		SET name = $1, kind = $2, magnitude = $3, techniques = $4, starts_at = $5, ends_at = $6, active = $7
		WHERE id = $8
		RETURNING created_at`

	err := s.db.GetContext(ctx, o, query,
		o.Name, o.Kind, o.Magnitude, o.Techniques, o.StartsAt, o.EndsAt, o.Active, o.ID)
	return notFound(err)
}

// DeleteOffer removes an offer
func (s *Store) DeleteOffer(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "offers", id)
}

// CouponByCode looks a coupon up case-insensitively; nil when absent
func (s *Store) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c,
		"SELECT "+couponColumns+" FROM coupons WHERE lower(code) = lower($1)", strings.TrimSpace(code))
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// CouponByID returns a coupon; nil when absent
func (s *Store) CouponByID(ctx context.Context, id int64) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c, "SELECT "+couponColumns+" FROM coupons WHERE id = $1", id)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListCoupons returns every coupon in id order
func (s *Store) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	coupons := []models.Coupon{}
	err := s.db.SelectContext(ctx, &coupons, "SELECT "+couponColumns+" FROM coupons ORDER BY id")
	return coupons, err
}

// CreateCoupon inserts a coupon; codes are unique regardless of case
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
		INSERT INTO coupons (code, percent, technique, starts_at, ends_at, max_uses, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, used_count, created_at`

	err := s.db.GetContext(ctx, c, query,
		c.Code, c.Percent, c.Technique, c.StartsAt, c.EndsAt, c.MaxUses, c.Active)
	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

// UpdateCoupon overwrites a coupon's editable fields; used_count is kept
func (s *Store) UpdateCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
		UPDATE coupons
		SET code = $1, percent = $2, technique = $3, starts_at = $4, ends_at = $5, max_uses = $6, active = $7
		WHERE id = $8
		RETURNING used_count, created_at`

	err := s.db.GetContext(ctx, c, query,
		c.Code, c.Percent, c.Technique, c.StartsAt, c.EndsAt, c.MaxUses, c.Active, c.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return notFound(err)
}

// DeleteCoupon removes a coupon
func (s *Store) DeleteCoupon(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "coupons", id)
}

func (s *Store) deleteByID(ctx context.Context, table string, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
