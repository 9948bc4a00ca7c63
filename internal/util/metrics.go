package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart mutations by operation",
	}, []string{"op"})

	CartClampsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_clamps_total",
		Help: "Cart quantities clamped down to session capacity",
	})

	CartNoStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_no_stock_total",
		Help: "Add-to-cart attempts rejected for lack of stock",
	})

	HoldsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_holds_swept_total",
		Help: "Expired stock holds deleted",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created from carts",
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Stale orders moved to EXPIRED",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order state transitions by target state and source",
	}, []string{"to", "source"})

	StockDecrementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrements_total",
		Help: "Order lines whose stock was decremented",
	})

	StockOversoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_oversold_lines_total",
		Help: "Order lines whose guarded stock decrement failed",
	})

	OversoldAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oversold_alerts_total",
		Help: "Oversold alerts raised to operators",
	})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_deliveries_total",
		Help: "Payment webhook deliveries by outcome",
	}, []string{"outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
