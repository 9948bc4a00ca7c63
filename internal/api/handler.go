package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CartStore loads and saves the session cart snapshot
type CartStore interface {
	LoadCart(ctx context.Context, sessionID string, userID *int64) (*models.Cart, error)
	SaveCart(ctx context.Context, c *models.Cart) error
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer exposes
type Deps struct {
	Carts      CartStore
	Engine     *cart.Engine
	Checkout   *service.CheckoutService
	Settlement *service.Settlement
	Owner      *service.OwnerService
	Ready      map[string]Pinger

	JWTSecret     string
	SessionTTL    time.Duration
	SecureCookies bool
	RateLimit     rate.Limit
	RateBurst     int
}

// Handler contains HTTP handlers
type Handler struct {
	Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = 72 * time.Hour
	}
	if deps.RateLimit == 0 {
		deps.RateLimit = rate.Limit(10)
	}
	if deps.RateBurst <= 0 {
		deps.RateBurst = 20
	}
	return &Handler{Deps: deps, logger: util.Component("api")}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The gateway retries anything but 200 and 401, so the webhook is never throttled.
	router.POST("/webhooks/payment", h.paymentWebhook)

	limited := newRateLimiter(h.RateLimit, h.RateBurst).middleware()

	shop := router.Group("/", sessionMiddleware(h.SessionTTL, h.SecureCookies), optionalAuth(h.JWTSecret))
	{
		shop.GET("/cart", h.getCart)
		shop.POST("/cart/items", limited, h.addItem)
		shop.PUT("/cart/items/:key", limited, h.setQuantity)
		shop.DELETE("/cart/items/:key", limited, h.removeItem)
		shop.DELETE("/cart", limited, h.clearCart)
		shop.POST("/cart/coupon", limited, h.applyCoupon)
		shop.DELETE("/cart/coupon", limited, h.removeCoupon)

		shop.POST("/checkout", limited, h.checkout)
		shop.GET("/checkout/return/:outcome", h.checkoutReturn)

		shop.GET("/orders", h.listOrders)
		shop.GET("/orders/:id", h.getOrder)
		shop.POST("/orders/:id/pay", h.continuePayment)
		shop.POST("/orders/:id/cancel", h.cancelOrder)
		shop.DELETE("/orders/:id", h.deleteOrder)
	}

	h.ownerRoutes(router.Group("/owner", requireRole(h.JWTSecret, roleOwner)))
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.Ready {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// respondError maps domain errors onto status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	var code int
	switch {
	case errors.Is(err, service.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, cart.ErrUnavailable):
		code = http.StatusNotFound
	case errors.Is(err, cart.ErrNoStock), errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrEmptyCart), errors.Is(err, store.ErrDuplicateSKU), errors.Is(err, store.ErrDuplicateCode):
		code = http.StatusConflict
	case errors.Is(err, payment.ErrGateway):
		code = http.StatusBadGateway
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if code == http.StatusBadGateway {
		body["retryable"] = true
	}
	c.JSON(code, body)
}
