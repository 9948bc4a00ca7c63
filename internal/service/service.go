package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("order state does not allow this action")
	ErrValidation        = errors.New("validation failed")
)

// OrderStore is the persistence the order flows need
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetPaymentRecord(ctx context.Context, orderID int64) (*models.PaymentRecord, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListOrdersBySession(ctx context.Context, sessionID string) ([]models.Order, error)
	SetPreference(ctx context.Context, orderID int64, preferenceID, checkoutURL string) error
	UpdateOrderState(ctx context.Context, orderID int64, to models.OrderState, from ...models.OrderState) (models.OrderState, error)
	DeleteOrder(ctx context.Context, orderID int64, from ...models.OrderState) error
	ExpireStale(ctx context.Context, cutoff time.Time) ([]store.ExpiredOrder, error)
	RecordPayment(ctx context.Context, orderID int64, upd store.PaymentUpdate, target models.OrderState) (*store.Outcome, error)
}

// Events publishes order lifecycle events
type Events interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderOversold(ctx context.Context, event *models.OrderOversoldEvent) error
}

// Dedup guards webhook processing with a short lock and remembers settled payments
type Dedup interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*redisclient.Lock, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// SessionCarts is the stored session cart that settlement trims once an
// order is paid
type SessionCarts interface {
	LoadCart(ctx context.Context, sessionID string, userID *int64) (*models.Cart, error)
	SaveCart(ctx context.Context, c *models.Cart) error
	DeleteCart(ctx context.Context, sessionID string) error
}

// Owner identifies who is acting on orders: the authenticated user when
// present, otherwise the anonymous session.
type Owner struct {
	SessionID string
	UserID    *int64
}

// owns reports whether o may read or change order. An order placed by a
// signed-in user belongs to that user only, whatever session presents it.
func (o Owner) owns(order *models.Order) bool {
	if order.UserID != nil {
		return o.UserID != nil && *o.UserID == *order.UserID
	}
	return order.SessionID == o.SessionID
}

// placed reports whether o is the user or the session that placed order.
// The gateway's return redirect carries the session cookie but no token.
func (o Owner) placed(order *models.Order) bool {
	return o.owns(order) || order.SessionID == o.SessionID
}

func orderNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}

// lifecycle records state changes: metrics, logs and events
type lifecycle struct {
	events Events
	logger *zap.Logger
}

func (l *lifecycle) changed(ctx context.Context, orderID int64, from, to models.OrderState, source string) {
	if from == to {
		return
	}
	util.OrderTransitionsTotal.WithLabelValues(string(to), source).Inc()
	l.logger.Info("Order state changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("source", source))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
		Source:    source,
	}
	if err := l.events.PublishOrderStatusChanged(ctx, event); err != nil {
		l.logger.Error("Failed to publish OrderStatusChanged event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}
