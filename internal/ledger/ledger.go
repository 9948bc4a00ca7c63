// Package ledger tracks advisory, time-limited stock holds made by shopping
// sessions against the real inventory held in the catalog.
//
// Holds are soft: two sessions racing between CapacityForSession and Hold may
// transiently over-commit a line. Real inventory is only written when an
// approved payment settles an order.
package ledger

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Reservations is the hold strategy the cart engine depends on.
type Reservations interface {
	EffectiveAvailable(ctx context.Context, key models.LineKey) (int, error)
	MyReserved(ctx context.Context, sessionID string, key models.LineKey) (int, error)
	CapacityForSession(ctx context.Context, sessionID string, key models.LineKey) (int, error)
	Hold(ctx context.Context, req HoldRequest) error
	Release(ctx context.Context, sessionID string, key models.LineKey) error
	ReleaseAll(ctx context.Context, sessionID string) error
	SweepExpired(ctx context.Context) (int64, error)
}

// HoldStore persists holds. ReservedQuantity sums live holds of every session.
type HoldStore interface {
	ReservedQuantity(ctx context.Context, productID int64, variantID *int64, now time.Time) (int, error)
	SessionHold(ctx context.Context, sessionID string, productID int64, variantID *int64, now time.Time) (*models.StockHold, error)
	UpsertHold(ctx context.Context, hold *models.StockHold) error
	DeleteHold(ctx context.Context, sessionID string, productID int64, variantID *int64) error
	DeleteSessionHolds(ctx context.Context, sessionID string) (int64, error)
	DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

// StockReader returns authoritative inventory for a line.
type StockReader interface {
	RealStock(ctx context.Context, productID int64, variantID *int64) (int, error)
}

// HoldRequest sets the session's single hold on a line
type HoldRequest struct {
	SessionID string
	UserID    *int64
	Key       models.LineKey
	Quantity  int
	TTL       time.Duration
}

// Ledger is the optimistic Reservations implementation
type Ledger struct {
	holds  HoldStore
	stock  StockReader
	now    func() time.Time
	logger *zap.Logger
}

// New creates a ledger; a nil clock means time.Now.
func New(holds HoldStore, stock StockReader, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		holds:  holds,
		stock:  stock,
		now:    now,
		logger: util.Component("ledger"),
	}
}

// EffectiveAvailable is real stock minus every live hold, floored at zero.
func (l *Ledger) EffectiveAvailable(ctx context.Context, key models.LineKey) (int, error) {
	real, err := l.stock.RealStock(ctx, key.ProductID, key.Variant())
	if err != nil {
		return 0, fmt.Errorf("failed to read stock for %s: %w", key, err)
	}
	reserved, err := l.holds.ReservedQuantity(ctx, key.ProductID, key.Variant(), l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sum holds for %s: %w", key, err)
	}
	if avail := real - reserved; avail > 0 {
		return avail, nil
	}
	return 0, nil
}

// MyReserved is the quantity of the session's own live hold on the line.
func (l *Ledger) MyReserved(ctx context.Context, sessionID string, key models.LineKey) (int, error) {
	h, err := l.holds.SessionHold(ctx, sessionID, key.ProductID, key.Variant(), l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to load session hold for %s: %w", key, err)
	}
	if h == nil || !h.Live(l.now()) {
		return 0, nil
	}
	return h.Quantity, nil
}

// CapacityForSession is the ceiling the session may set its line quantity to.
// The session's own hold is added back so it never competes with itself.
func (l *Ledger) CapacityForSession(ctx context.Context, sessionID string, key models.LineKey) (int, error) {
	avail, err := l.EffectiveAvailable(ctx, key)
	if err != nil {
		return 0, err
	}
	mine, err := l.MyReserved(ctx, sessionID, key)
	if err != nil {
		return 0, err
	}
	return avail + mine, nil
}

// Hold creates or overwrites the session's hold on a line with a fresh expiry.
// A zero quantity releases the hold instead.
func (l *Ledger) Hold(ctx context.Context, req HoldRequest) error {
	if req.Quantity <= 0 {
		return l.Release(ctx, req.SessionID, req.Key)
	}
	hold := &models.StockHold{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		ProductID: req.Key.ProductID,
		VariantID: req.Key.Variant(),
		Quantity:  req.Quantity,
		ExpiresAt: l.now().Add(req.TTL),
	}
	if err := l.holds.UpsertHold(ctx, hold); err != nil {
		return fmt.Errorf("failed to upsert hold for %s: %w", req.Key, err)
	}
	return nil
}

// Release deletes the session's hold on a line, if any.
func (l *Ledger) Release(ctx context.Context, sessionID string, key models.LineKey) error {
	if err := l.holds.DeleteHold(ctx, sessionID, key.ProductID, key.Variant()); err != nil {
		return fmt.Errorf("failed to release hold for %s: %w", key, err)
	}
	return nil
}

// ReleaseAll deletes every hold of the session.
func (l *Ledger) ReleaseAll(ctx context.Context, sessionID string) error {
	n, err := l.holds.DeleteSessionHolds(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to release session holds: %w", err)
	}
	l.logger.Debug("Released session holds", zap.String("session_id", sessionID), zap.Int64("count", n))
	return nil
}

// SweepExpired deletes holds whose expiry has passed.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.holds.DeleteExpiredHolds(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired holds: %w", err)
	}
	if n > 0 {
		util.HoldsSweptTotal.Add(float64(n))
	}
	return n, nil
}
