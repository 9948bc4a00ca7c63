package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"storefront/internal/payment"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) checkout(c *gin.Context) {
	sc, ok := h.loadCart(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	co, err := h.Checkout.CreateFromCart(ctx, sc)
	// rendering may have re-held or dropped lines
	if serr := h.Carts.SaveCart(ctx, sc); serr != nil {
		h.logger.Warn("Failed to save cart after checkout", zap.String("session_id", sc.SessionID), zap.Error(serr))
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, co)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.Checkout.List(c.Request.Context(), owner(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := h.Checkout.Detail(c.Request.Context(), owner(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) continuePayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	co, err := h.Checkout.ContinuePayment(c.Request.Context(), owner(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.Checkout.Cancel(c.Request.Context(), owner(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) deleteOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Checkout.Delete(c.Request.Context(), owner(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// checkoutReturn applies the state the gateway reports on its redirect back
func (h *Handler) checkoutReturn(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("external_reference"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid external_reference"})
		return
	}
	status := c.Query("status")
	if status == "" {
		status = c.Query("collection_status")
	}

	order, err := h.Settlement.HandleReturn(c.Request.Context(), owner(c), id, c.Param("outcome"), status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":      order,
		"payment_id": c.Query("payment_id"),
	})
}

type webhookBody struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// notification reads a delivery from the query string, falling back to the
// JSON body. Both the current and the legacy topic/id forms are accepted.
func notification(c *gin.Context) service.Notification {
	n := service.Notification{
		Type:      c.Query("type"),
		DataID:    c.Query("data.id"),
		RequestID: c.GetHeader("x-request-id"),
		Signature: c.GetHeader("x-signature"),
	}
	if n.Type == "" {
		n.Type = c.Query("topic")
	}
	if n.DataID == "" && c.Query("topic") != "" {
		n.DataID = c.Query("id")
	}

	if n.Type == "" || n.DataID == "" {
		var body webhookBody
		if err := c.ShouldBindJSON(&body); err == nil {
			if n.Type == "" {
				n.Type = body.Type
				if n.Type == "" {
					n.Type = body.Topic
				}
			}
			if n.DataID == "" {
				n.DataID = strings.Trim(string(body.Data.ID), `"`)
			}
		}
	}
	return n
}

// paymentWebhook answers 200 for everything but a bad signature so the
// gateway does not retry deliveries we chose to ignore.
func (h *Handler) paymentWebhook(c *gin.Context) {
	n := notification(c)
	outcome, err := h.Settlement.HandleWebhook(c.Request.Context(), n)
	if errors.Is(err, payment.ErrInvalidSignature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	if err != nil {
		h.logger.Error("Webhook failed", zap.String("data_id", n.DataID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
