package worker

import (
	"context"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// ProcessedEvents remembers consumed event ids
type ProcessedEvents interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// AlertWorker consumes order events and raises an operator alert for every
// oversold order, once per event.
type AlertWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	processed    ProcessedEvents
	logger       *zap.Logger
}

// NewAlertWorker creates a new alert worker
func NewAlertWorker(consumer *broker.Consumer, processed ProcessedEvents) *AlertWorker {
	w := &AlertWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		processed:    processed,
		logger:       util.Component("alerts"),
	}
	w.eventHandler.OnOrderOversold(w.HandleOversold)
	w.eventHandler.OnOrderStatusChanged(w.HandleStatusChanged)
	return w
}

// Start consumes until ctx is done
func (w *AlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting alert worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AlertWorker) Stop() error {
	w.logger.Info("Stopping alert worker")
	return w.consumer.Close()
}

// HandleOversold raises the alert for an oversold order
func (w *AlertWorker) HandleOversold(ctx context.Context, event *models.OrderOversoldEvent) error {
	seen, err := w.processed.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if seen {
		w.logger.Debug("Oversold event already handled", zap.String("event_id", event.EventID))
		return nil
	}

	for _, line := range event.Short {
		fields := []zap.Field{
			zap.Int64("order_id", event.OrderID),
			zap.String("payment_id", event.PaymentID),
			zap.Int64("product_id", line.ProductID),
			zap.String("sku", line.SKU),
			zap.Int("quantity", line.Quantity),
		}
		if line.VariantID != nil {
			fields = append(fields, zap.Int64("variant_id", *line.VariantID))
		}
		w.logger.Error("OVERSOLD: paid order line has no stock, manual fulfilment needed", fields...)
	}
	util.OversoldAlertsTotal.Inc()

	return w.processed.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// HandleStatusChanged records the transition in the audit log
func (w *AlertWorker) HandleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	w.logger.Info("Order transition",
		zap.Int64("order_id", event.OrderID),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.String("source", event.Source))
	return nil
}

// HoldSweeper deletes expired stock holds
type HoldSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// OrderExpirer expires stale unpaid orders
type OrderExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Sweeper periodically clears expired holds and stale orders. Both also run
// lazily on access, so a stopped sweeper only delays cleanup.
type Sweeper struct {
	holds    HoldSweeper
	orders   OrderExpirer
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(holds HoldSweeper, orders OrderExpirer, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		holds:    holds,
		orders:   orders,
		interval: interval,
		logger:   util.Component("sweeper"),
	}
}

// Start sweeps once immediately, then on every tick until ctx is done
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting sweeper", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping sweeper")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep; failures are logged and retried next tick.
func (s *Sweeper) RunOnce(ctx context.Context) {
	holds, err := s.holds.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Hold sweep failed", zap.Error(err))
	}
	orders, err := s.orders.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("Order expiry failed", zap.Error(err))
	}
	if holds > 0 || orders > 0 {
		s.logger.Info("Sweep finished", zap.Int64("holds", holds), zap.Int("orders", orders))
	}
}
