package store

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

const orderColumns = `id, session_id, user_id, total, currency, coupon_code, discount, state, stock_decremented, created_at, updated_at`

// CreateOrder inserts the order, its items and an empty payment record in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, order, `
			INSERT INTO orders (session_id, user_id, total, currency, coupon_code, discount, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at`,
			order.SessionID, order.UserID, order.Total, order.Currency, order.CouponCode, order.Discount, order.State)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range items {
			item := &items[i]
			item.OrderID = order.ID
			err := tx.GetContext(ctx, &item.ID, `
				INSERT INTO order_items (order_id, product_id, variant_id, sku, title, quantity, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`,
				item.OrderID, item.ProductID, item.VariantID, item.SKU, item.Title, item.Quantity, item.UnitPrice, item.Subtotal)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO payments (order_id) VALUES ($1)", order.ID); err != nil {
			return fmt.Errorf("failed to insert payment record: %w", err)
		}
		return nil
	})
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// ListOrdersByUser returns a user's orders, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return orders, err
}

// ListOrdersBySession returns an anonymous session's orders, newest first
func (s *Store) ListOrdersBySession(ctx context.Context, sessionID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE session_id = $1 ORDER BY created_at DESC, id DESC", sessionID)
	return orders, err
}

// ListOrders returns the most recent orders, optionally filtered by state
func (s *Store) ListOrders(ctx context.Context, state models.OrderState, limit int) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE ($1 = '' OR state = $1) ORDER BY created_at DESC, id DESC LIMIT $2",
		string(state), limit)
	return orders, err
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT id, order_id, product_id, variant_id, sku, title, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	return items, err
}

// GetPaymentRecord retrieves the payment record of an order
func (s *Store) GetPaymentRecord(ctx context.Context, orderID int64) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := s.db.GetContext(ctx, &p, `
		SELECT id, order_id, preference_id, checkout_url, payment_id, status, status_detail, raw, updated_at
		FROM payments WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// SetPreference stores the gateway preference created for an order
func (s *Store) SetPreference(ctx context.Context, orderID int64, preferenceID, checkoutURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET preference_id = $1, checkout_url = $2, updated_at = NOW()
		WHERE order_id = $3`, preferenceID, checkoutURL, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOrderState moves an order to `to` if its current state is one of from.
// It returns the previous state, ErrNotFound or ErrStateConflict.
func (s *Store) UpdateOrderState(ctx context.Context, orderID int64, to models.OrderState, from ...models.OrderState) (models.OrderState, error) {
	var prev models.OrderState
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &prev, "SELECT state FROM orders WHERE id = $1 FOR UPDATE", orderID); err != nil {
			return notFound(err)
		}
		if !containsState(from, prev) {
			return fmt.Errorf("%w: order %d is %s", ErrStateConflict, orderID, prev)
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE orders SET state = $1, updated_at = NOW() WHERE id = $2", to, orderID)
		return err
	})
	return prev, err
}

// DeleteOrder hard-deletes an order whose state is one of from
func (s *Store) DeleteOrder(ctx context.Context, orderID int64, from ...models.OrderState) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var state models.OrderState
		if err := tx.GetContext(ctx, &state, "SELECT state FROM orders WHERE id = $1 FOR UPDATE", orderID); err != nil {
			return notFound(err)
		}
		if !containsState(from, state) {
			return fmt.Errorf("%w: order %d is %s", ErrStateConflict, orderID, state)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID)
		return err
	})
}

// ExpiredOrder is an order moved to EXPIRED by ExpireStale
type ExpiredOrder struct {
	ID   int64             `db:"id"`
	From models.OrderState `db:"prev_state"`
}

// ExpireStale moves CREATED and PENDING orders created before cutoff to EXPIRED
func (s *Store) ExpireStale(ctx context.Context, cutoff time.Time) ([]ExpiredOrder, error) {
	expired := []ExpiredOrder{}
	err := s.db.SelectContext(ctx, &expired, `
		UPDATE orders o SET state = $1, updated_at = NOW()
		FROM (
			SELECT id, state FROM orders
			WHERE state = ANY($2) AND created_at < $3
			FOR UPDATE SKIP LOCKED
		) prev
		WHERE o.id = prev.id
		RETURNING o.id, prev.state AS prev_state`,
		models.OrderExpired, pq.Array([]string{string(models.OrderCreated), string(models.OrderPending)}), cutoff)
	return expired, err
}

// PaymentUpdate is the authoritative payment data reported by the gateway
type PaymentUpdate struct {
	PaymentID    string
	Status       string
	StatusDetail string
	Raw          types.JSONText
}

// Outcome describes what RecordPayment did to an order
type Outcome struct {
	OrderID   int64
	SessionID string
	From      models.OrderState
	To        models.OrderState
	// Settled is true only for the call that decremented stock.
	Settled bool
	Short   []models.ShortLine
}

// Changed reports whether the order state moved
func (o *Outcome) Changed() bool {
	return o.From != o.To
}

type lockedOrder struct {
	State            models.OrderState `db:"state"`
	StockDecremented bool              `db:"stock_decremented"`
	CouponCode       string            `db:"coupon_code"`
	SessionID        string            `db:"session_id"`
}

// RecordPayment stores a gateway payment report and moves the order toward
// target under a row lock on the order.
//
// An APPROVED target settles the order exactly once: while stock_decremented
// is false, every line is decremented with a guarded update, the coupon use
// is counted and the flag is set, all in the same transaction. Lines whose
// guard fails are reported as short and the order ends OVERSOLD instead of
// APPROVED. Once settled, later reports only refresh the payment record.
func (s *Store) RecordPayment(ctx context.Context, orderID int64, upd PaymentUpdate, target models.OrderState) (*Outcome, error) {
	out := &Outcome{OrderID: orderID}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var o lockedOrder
		err := tx.GetContext(ctx, &o,
			"SELECT state, stock_decremented, coupon_code, session_id FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if err != nil {
			return notFound(err)
		}
		out.From, out.To, out.SessionID = o.State, o.State, o.SessionID

		raw := upd.Raw
		if len(raw) == 0 {
			raw = types.JSONText("{}")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET payment_id = $1, status = $2, status_detail = $3, raw = $4, updated_at = NOW()
			WHERE order_id = $5`,
			upd.PaymentID, upd.Status, upd.StatusDetail, raw, orderID)
		if err != nil {
			return fmt.Errorf("failed to update payment record: %w", err)
		}

		if target == models.OrderApproved {
			if o.StockDecremented {
				return nil
			}
			short, err := decrementStock(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if o.CouponCode != "" {
				_, err := tx.ExecContext(ctx, `
					UPDATE coupons SET used_count = used_count + 1
					WHERE lower(code) = lower($1) AND used_count < max_uses`, o.CouponCode)
				if err != nil {
					return fmt.Errorf("failed to count coupon use: %w", err)
				}
			}
			out.To = models.OrderApproved
			if len(short) > 0 {
				out.To = models.OrderOversold
			}
			out.Short = short
			out.Settled = true
			_, err = tx.ExecContext(ctx,
				"UPDATE orders SET state = $1, stock_decremented = TRUE, updated_at = NOW() WHERE id = $2",
				out.To, orderID)
			return err
		}

		// an APPROVED set by the return redirect is unconfirmed and may be corrected
		unconfirmed := o.State == models.OrderApproved && !o.StockDecremented
		if o.State == target || !(models.CanTransition(o.State, target) || unconfirmed) {
			return nil
		}
		out.To = target
		_, err = tx.ExecContext(ctx,
			"UPDATE orders SET state = $1, updated_at = NOW() WHERE id = $2", target, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decrementStock applies a guarded decrement per order line and returns the
// lines that did not have enough stock.
func decrementStock(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.ShortLine, error) {
	var items []models.OrderItem
	err := tx.SelectContext(ctx, &items,
		"SELECT product_id, variant_id, sku, quantity FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	var short []models.ShortLine
	for _, item := range items {
		var query string
		var target int64
		if item.VariantID != nil {
			query = "UPDATE product_variants SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1"
			target = *item.VariantID
		} else {
			query = "UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1"
			target = item.ProductID
		}
		res, err := tx.ExecContext(ctx, query, item.Quantity, target)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock for %s: %w", item.SKU, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			short = append(short, models.ShortLine{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				SKU:       item.SKU,
				Quantity:  item.Quantity,
			})
		}
	}
	return short, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func containsState(states []models.OrderState, s models.OrderState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
