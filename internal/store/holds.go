package store

import (
	"context"
	"time"

	"storefront/internal/models"
)

// Holds are matched per line with COALESCE(variant_id, 0) so the no-variant
// line has a single row per session, mirroring the unique index.

// ReservedQuantity sums every session's live holds on a line
func (s *Store) ReservedQuantity(ctx context.Context, productID int64, variantID *int64, now time.Time) (int, error) {
	var total int
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_holds
		WHERE product_id = $1 AND COALESCE(variant_id, 0) = COALESCE($2::bigint, 0) AND expires_at > $3`,
		productID, variantID, now)
	return total, err
}

// SessionHold returns the session's live hold on a line, or nil
func (s *Store) SessionHold(ctx context.Context, sessionID string, productID int64, variantID *int64, now time.Time) (*models.StockHold, error) {
	var h models.StockHold
	err := s.db.GetContext(ctx, &h, `
		SELECT id, session_id, user_id, product_id, variant_id, quantity, expires_at, created_at, updated_at
		FROM stock_holds
		WHERE session_id = $1 AND product_id = $2 AND COALESCE(variant_id, 0) = COALESCE($3::bigint, 0) AND expires_at > $4`,
		sessionID, productID, variantID, now)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

// UpsertHold creates the session's hold on a line or overwrites its quantity and expiry
func (s *Store) UpsertHold(ctx context.Context, h *models.StockHold) error {
	query := `
		INSERT INTO stock_holds (session_id, user_id, product_id, variant_id, quantity, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, product_id, (COALESCE(variant_id, 0)))
		DO UPDATE SET quantity = EXCLUDED.quantity,
		              expires_at = EXCLUDED.expires_at,
		              user_id = COALESCE(EXCLUDED.user_id, stock_holds.user_id),
		              updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, h, query,
		h.SessionID, h.UserID, h.ProductID, h.VariantID, h.Quantity, h.ExpiresAt)
}

// DeleteHold deletes the session's hold on a line
func (s *Store) DeleteHold(ctx context.Context, sessionID string, productID int64, variantID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM stock_holds
		WHERE session_id = $1 AND product_id = $2 AND COALESCE(variant_id, 0) = COALESCE($3::bigint, 0)`,
		sessionID, productID, variantID)
	return err
}

// DeleteSessionHolds deletes every hold of a session
func (s *Store) DeleteSessionHolds(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM stock_holds WHERE session_id = $1", sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredHolds deletes holds whose expiry is at or before now
func (s *Store) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM stock_holds WHERE expires_at <= $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
