package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront/internal/cart"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
)

const (
	webhookLockTTL = 30 * time.Second
	settledKeyTTL  = 7 * 24 * time.Hour
)

// Webhook outcomes, also used as metric labels.
const (
	OutcomeIgnored      = "ignored"
	OutcomeDuplicate    = "duplicate"
	OutcomeInFlight     = "in_flight"
	OutcomeGatewayError = "gateway_error"
	OutcomeUnknownOrder = "unknown_order"
	OutcomeError        = "error"
	OutcomeApplied      = "applied"
	OutcomeUnchanged    = "unchanged"
	OutcomeRejectedSig  = "invalid_signature"
)

// Notification is a webhook delivery from the gateway
type Notification struct {
	Type      string
	DataID    string
	RequestID string
	Signature string
}

// Settlement applies gateway payment reports to orders. The webhook is
// authoritative and is the only path that decrements stock.
type Settlement struct {
	orders  OrderStore
	holds   ledger.Reservations
	carts   SessionCarts
	gateway payment.Gateway
	dedup   Dedup
	secret  string
	life    *lifecycle
	logger  *zap.Logger
}

func NewSettlement(
	orders OrderStore,
	holds ledger.Reservations,
	carts SessionCarts,
	gateway payment.Gateway,
	dedup Dedup,
	events Events,
	webhookSecret string,
) *Settlement {
	logger := util.GetLogger()
	return &Settlement{
		orders:  orders,
		holds:   holds,
		carts:   carts,
		gateway: gateway,
		dedup:   dedup,
		secret:  webhookSecret,
		life:    &lifecycle{events: events, logger: logger},
		logger:  logger,
	}
}

func settledKey(paymentID string) string {
	return "payment-approved:" + paymentID
}

// HandleWebhook processes one delivery and returns its outcome. The only
// error returned is payment.ErrInvalidSignature; every other failure is
// reported through the outcome so the gateway gets a 200.
func (s *Settlement) HandleWebhook(ctx context.Context, n Notification) (string, error) {
	ctx, span := util.StartSpan(ctx, "Settlement.HandleWebhook")
	defer span.End()

	outcome, err := s.handleWebhook(ctx, n)
	util.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	return outcome, err
}

func (s *Settlement) handleWebhook(ctx context.Context, n Notification) (string, error) {
	if err := payment.VerifySignature(s.secret, n.Signature, n.RequestID, n.DataID); err != nil {
		s.logger.Warn("Webhook signature mismatch", zap.String("data_id", n.DataID), zap.String("request_id", n.RequestID))
		return OutcomeRejectedSig, err
	}
	if n.Type != "payment" || n.DataID == "" {
		return OutcomeIgnored, nil
	}
	paymentID := n.DataID

	if seen, err := s.dedup.CheckIdempotencyKey(ctx, settledKey(paymentID)); err == nil && seen {
		s.logger.Info("Payment already settled", zap.String("payment_id", paymentID))
		return OutcomeDuplicate, nil
	}

	lock, err := s.dedup.AcquireLock(ctx, "payment:"+paymentID, webhookLockTTL)
	switch {
	case errors.Is(err, redisclient.ErrLockHeld):
		return OutcomeInFlight, nil
	case err != nil:
		// the order row lock still serialises settlement
		s.logger.Warn("Webhook lock unavailable", zap.String("payment_id", paymentID), zap.Error(err))
	default:
		defer func() {
			if err := s.dedup.ReleaseLock(context.Background(), lock); err != nil {
				s.logger.Warn("Failed to release webhook lock", zap.Error(err))
			}
		}()
	}

	p, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		s.logger.Error("Failed to query payment", zap.String("payment_id", paymentID), zap.Error(err))
		return OutcomeGatewayError, nil
	}

	orderID, err := strconv.ParseInt(strings.TrimSpace(p.ExternalReference), 10, 64)
	if err != nil || orderID <= 0 {
		s.logger.Warn("Payment without a usable external reference",
			zap.String("payment_id", paymentID),
			zap.String("external_reference", p.ExternalReference))
		return OutcomeUnknownOrder, nil
	}

	target := payment.MapStatus(p.Status)
	out, err := s.orders.RecordPayment(ctx, orderID, store.PaymentUpdate{
		PaymentID:    paymentID,
		Status:       p.Status,
		StatusDetail: p.StatusDetail,
		Raw:          types.JSONText(p.Raw),
	}, target)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Payment for unknown order", zap.String("payment_id", paymentID), zap.Int64("order_id", orderID))
		return OutcomeUnknownOrder, nil
	}
	if err != nil {
		s.logger.Error("Failed to record payment", zap.Int64("order_id", orderID), zap.Error(err))
		return OutcomeError, nil
	}

	s.afterRecord(ctx, out, paymentID, "webhook")

	if target == models.OrderApproved {
		if err := s.dedup.SetIdempotencyKey(ctx, settledKey(paymentID), orderID, settledKeyTTL); err != nil {
			s.logger.Warn("Failed to remember settled payment", zap.String("payment_id", paymentID), zap.Error(err))
		}
	}

	if out.Changed() || out.Settled {
		return OutcomeApplied, nil
	}
	return OutcomeUnchanged, nil
}

// afterRecord publishes the transition and, for the delivery that settled
// stock, takes the paid lines off the session's holds and stored cart.
func (s *Settlement) afterRecord(ctx context.Context, out *store.Outcome, paymentID, source string) {
	s.life.changed(ctx, out.OrderID, out.From, out.To, source)
	if !out.Settled {
		return
	}

	util.StockDecrementsTotal.Inc()
	if err := s.releasePaid(ctx, out.OrderID); err != nil {
		s.logger.Warn("Failed to release paid lines of session",
			zap.Int64("order_id", out.OrderID),
			zap.String("session_id", out.SessionID),
			zap.Error(err))
	}

	if len(out.Short) == 0 {
		return
	}
	util.StockOversoldTotal.Add(float64(len(out.Short)))
	s.logger.Error("Order oversold: stock decrement skipped for some lines",
		zap.Int64("order_id", out.OrderID),
		zap.String("payment_id", paymentID),
		zap.Int("short_lines", len(out.Short)))

	event := &models.OrderOversoldEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderOversold),
		OrderID:   out.OrderID,
		PaymentID: paymentID,
		Short:     out.Short,
	}
	if err := s.life.events.PublishOrderOversold(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderOversold event", zap.Int64("order_id", out.OrderID), zap.Error(err))
	}
}

// HandleReturn applies the optimistic state reported by the return redirect.
// It never touches stock; the webhook remains authoritative.
func (s *Settlement) HandleReturn(ctx context.Context, who Owner, orderID int64, outcome, status string) (*models.Order, error) {
	target, ok := payment.MapReturn(outcome, status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown return outcome %q", ErrValidation, outcome)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, orderNotFound(err)
	}
	if !who.placed(order) {
		return nil, ErrOrderNotFound
	}
	if order.State == target || !models.CanTransition(order.State, target) {
		return order, nil
	}

	prev, err := s.orders.UpdateOrderState(ctx, orderID, target, models.OrderCreated, models.OrderPending)
	if errors.Is(err, store.ErrStateConflict) {
		return order, nil
	}
	if err != nil {
		return nil, orderNotFound(err)
	}
	s.life.changed(ctx, orderID, prev, target, "return")
	order.State = target
	return order, nil
}

// releasePaid subtracts the order's quantities from the originating session's
// cart and holds. Lines added after checkout, and extra units of a paid line,
// stay in the cart and keep their hold.
func (s *Settlement) releasePaid(ctx context.Context, orderID int64) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return err
	}
	sc, err := s.carts.LoadCart(ctx, order.SessionID, order.UserID)
	if err != nil {
		return err
	}

	for _, it := range items {
		key := models.NewLineKey(it.ProductID, it.VariantID)
		left := sc.Lines[key] - it.Quantity
		if left <= 0 {
			if err := s.holds.Release(ctx, order.SessionID, key); err != nil {
				return err
			}
			delete(sc.Lines, key)
			continue
		}
		err := s.holds.Hold(ctx, ledger.HoldRequest{
			SessionID: order.SessionID,
			UserID:    order.UserID,
			Key:       key,
			Quantity:  left,
			TTL:       cart.HoldTTL,
		})
		if err != nil {
			return err
		}
		sc.Lines[key] = left
	}

	if sc.Empty() {
		return s.carts.DeleteCart(ctx, order.SessionID)
	}
	return s.carts.SaveCart(ctx, sc)
}
