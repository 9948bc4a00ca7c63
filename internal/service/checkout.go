package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CheckoutConfig holds the settings of the checkout flow
type CheckoutConfig struct {
	PublicURL   string
	Currency    string
	OrderExpiry time.Duration
}

// CheckoutService turns carts into orders and exposes the shopper's order actions
type CheckoutService struct {
	orders  OrderStore
	carts   *cart.Engine
	gateway payment.Gateway
	cfg     CheckoutConfig
	now     func() time.Time
	life    *lifecycle
	logger  *zap.Logger
}

// NewCheckoutService creates a checkout service; a nil clock means time.Now.
func NewCheckoutService(
	orders OrderStore,
	carts *cart.Engine,
	gateway payment.Gateway,
	events Events,
	cfg CheckoutConfig,
	now func() time.Time,
) *CheckoutService {
	if now == nil {
		now = time.Now
	}
	logger := util.GetLogger()
	return &CheckoutService{
		orders:  orders,
		carts:   carts,
		gateway: gateway,
		cfg:     cfg,
		now:     now,
		life:    &lifecycle{events: events, logger: logger},
		logger:  logger,
	}
}

// Checkout is the result of starting or resuming payment
type Checkout struct {
	Order       *models.Order      `json:"order"`
	Items       []models.OrderItem `json:"items"`
	CheckoutURL string             `json:"checkout_url"`
	Notices     []cart.Notice      `json:"notices,omitempty"`
}

// OrderDetail is an order with its lines and payment record
type OrderDetail struct {
	Order   *models.Order         `json:"order"`
	Items   []models.OrderItem    `json:"items"`
	Payment *models.PaymentRecord `json:"payment,omitempty"`
}

// CreateFromCart snapshots the rendered cart into a CREATED order and opens a
// gateway preference for it. The cart and its holds stay in place until the
// payment is approved. If the gateway fails the order is CANCELLED and an
// error wrapping payment.ErrGateway is returned.
func (s *CheckoutService) CreateFromCart(ctx context.Context, c *models.Cart) (*Checkout, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateFromCart")
	defer span.End()

	view, err := s.carts.Render(ctx, c)
	if err != nil {
		return nil, util.SpanError(span, fmt.Errorf("failed to render cart: %w", err))
	}
	if len(view.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]models.OrderItem, 0, len(view.Lines))
	for _, l := range view.Lines {
		items = append(items, models.OrderItem{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			SKU:       l.SKU,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: l.FinalUnitPrice,
			Subtotal:  l.FinalAmount,
		})
	}

	order := &models.Order{
		SessionID:  c.SessionID,
		UserID:     c.UserID,
		Total:      view.Total,
		Currency:   s.cfg.Currency,
		CouponCode: view.CouponCode,
		Discount:   view.Discount,
		State:      models.OrderCreated,
	}
	if err := s.orders.CreateOrder(ctx, order, items); err != nil {
		return nil, util.SpanError(span, fmt.Errorf("failed to create order: %w", err))
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("items", len(items)))
	s.publishCreated(ctx, order, items)

	url, err := s.openPreference(ctx, order, items)
	if err != nil {
		if _, cerr := s.orders.UpdateOrderState(ctx, order.ID, models.OrderCancelled, models.OrderCreated); cerr != nil {
			s.logger.Error("Failed to cancel order after gateway failure", zap.Int64("order_id", order.ID), zap.Error(cerr))
		} else {
			s.life.changed(ctx, order.ID, models.OrderCreated, models.OrderCancelled, "checkout")
			order.State = models.OrderCancelled
		}
		return nil, util.SpanError(span, err)
	}

	return &Checkout{Order: order, Items: items, CheckoutURL: url, Notices: view.Notices}, nil
}

func (s *CheckoutService) publishCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, 0, len(items))
	for _, it := range items {
		data = append(data, models.OrderItemData{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:    order.ID,
		UserID:     order.UserID,
		Total:      order.Total,
		Currency:   order.Currency,
		CouponCode: order.CouponCode,
		Items:      data,
	}
	if err := s.life.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// openPreference creates the gateway preference and stores it on the payment record.
func (s *CheckoutService) openPreference(ctx context.Context, order *models.Order, items []models.OrderItem) (string, error) {
	req := payment.PreferenceRequest{
		ExternalReference: strconv.FormatInt(order.ID, 10),
		BackURLs: payment.BackURLs{
			Success: s.cfg.PublicURL + "/checkout/return/success",
			Pending: s.cfg.PublicURL + "/checkout/return/pending",
			Failure: s.cfg.PublicURL + "/checkout/return/failure",
		},
		NotificationURL: s.cfg.PublicURL + "/webhooks/payment",
		AutoReturn:      "approved",
	}
	for _, it := range items {
		req.Items = append(req.Items, payment.Item{
			ID:         it.SKU,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			CurrencyID: order.Currency,
		})
	}

	pref, err := s.gateway.CreatePreference(ctx, req)
	if err != nil {
		s.logger.Error("Failed to create payment preference", zap.Int64("order_id", order.ID), zap.Error(err))
		if !errors.Is(err, payment.ErrGateway) {
			err = fmt.Errorf("%w: %v", payment.ErrGateway, err)
		}
		return "", err
	}
	if err := s.orders.SetPreference(ctx, order.ID, pref.ID, pref.CheckoutURL); err != nil {
		return "", fmt.Errorf("failed to store preference: %w", err)
	}
	return pref.CheckoutURL, nil
}

// ContinuePayment returns the hosted checkout URL of a CREATED or PENDING
// order, opening a new preference if none was stored.
func (s *CheckoutService) ContinuePayment(ctx context.Context, who Owner, orderID int64) (*Checkout, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ContinuePayment")
	defer span.End()

	s.expireLazily(ctx)
	order, err := s.owned(ctx, who, orderID)
	if err != nil {
		return nil, err
	}
	if !order.State.Payable() {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.State)
	}

	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rec, err := s.orders.GetPaymentRecord(ctx, orderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if rec != nil && rec.CheckoutURL != "" {
		return &Checkout{Order: order, Items: items, CheckoutURL: rec.CheckoutURL}, nil
	}

	url, err := s.openPreference(ctx, order, items)
	if err != nil {
		return nil, util.SpanError(span, err)
	}
	return &Checkout{Order: order, Items: items, CheckoutURL: url}, nil
}

// Cancel moves a CREATED or PENDING order to CANCELLED
func (s *CheckoutService) Cancel(ctx context.Context, who Owner, orderID int64) (*models.Order, error) {
	s.expireLazily(ctx)
	order, err := s.owned(ctx, who, orderID)
	if err != nil {
		return nil, err
	}
	if !order.State.Cancellable() {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.State)
	}

	prev, err := s.orders.UpdateOrderState(ctx, orderID, models.OrderCancelled, models.OrderCreated, models.OrderPending)
	if errors.Is(err, store.ErrStateConflict) {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, prev)
	}
	if err != nil {
		return nil, orderNotFound(err)
	}
	s.life.changed(ctx, orderID, prev, models.OrderCancelled, "shopper")
	order.State = models.OrderCancelled
	return order, nil
}

// Delete hard-deletes a CREATED or EXPIRED order
func (s *CheckoutService) Delete(ctx context.Context, who Owner, orderID int64) error {
	s.expireLazily(ctx)
	order, err := s.owned(ctx, who, orderID)
	if err != nil {
		return err
	}
	if !order.State.Deletable() {
		return fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.State)
	}

	err = s.orders.DeleteOrder(ctx, orderID, models.OrderCreated, models.OrderExpired)
	if errors.Is(err, store.ErrStateConflict) {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err != nil {
		return orderNotFound(err)
	}
	s.logger.Info("Order deleted", zap.Int64("order_id", orderID), zap.String("state", string(order.State)))
	return nil
}

// List returns the owner's orders, newest first
func (s *CheckoutService) List(ctx context.Context, who Owner) ([]models.Order, error) {
	s.expireLazily(ctx)
	if who.UserID != nil {
		return s.orders.ListOrdersByUser(ctx, *who.UserID)
	}
	orders, err := s.orders.ListOrdersBySession(ctx, who.SessionID)
	if err != nil {
		return nil, err
	}
	kept := orders[:0]
	for i := range orders {
		if who.owns(&orders[i]) {
			kept = append(kept, orders[i])
		}
	}
	return kept, nil
}

// Detail returns one of the owner's orders with items and payment record
func (s *CheckoutService) Detail(ctx context.Context, who Owner, orderID int64) (*OrderDetail, error) {
	s.expireLazily(ctx)
	order, err := s.owned(ctx, who, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rec, err := s.orders.GetPaymentRecord(ctx, orderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return &OrderDetail{Order: order, Items: items, Payment: rec}, nil
}

// ExpireStale moves CREATED and PENDING orders older than the configured
// expiry to EXPIRED and returns how many moved.
func (s *CheckoutService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.orders.ExpireStale(ctx, s.now().Add(-s.cfg.OrderExpiry))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale orders: %w", err)
	}
	for _, e := range expired {
		util.OrdersExpiredTotal.Inc()
		s.life.changed(ctx, e.ID, e.From, models.OrderExpired, "sweeper")
	}
	return len(expired), nil
}

// expireLazily runs the expiry sweep on access; failures only log.
func (s *CheckoutService) expireLazily(ctx context.Context) {
	if _, err := s.ExpireStale(ctx); err != nil {
		s.logger.Warn("Lazy order expiry failed", zap.Error(err))
	}
}

func (s *CheckoutService) owned(ctx context.Context, who Owner, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, orderNotFound(err)
	}
	if !who.owns(order) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
