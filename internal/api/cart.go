package api

import (
	"context"
	"errors"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/models"

	"github.com/gin-gonic/gin"
)

type addItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required,gt=0"`
	VariantID *int64 `json:"variant_id" binding:"omitempty,gt=0"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type couponRequest struct {
	Code string `json:"code" binding:"required"`
}

type mutation func(ctx context.Context, c *models.Cart) ([]cart.Notice, error)

func (h *Handler) loadCart(c *gin.Context) (*models.Cart, bool) {
	who := owner(c)
	sc, err := h.Carts.LoadCart(c.Request.Context(), who.SessionID, who.UserID)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return sc, true
}

// render prices the cart, stores it (render may drop dead lines) and writes
// the view with any mutation notices in front.
func (h *Handler) render(c *gin.Context, sc *models.Cart, notices []cart.Notice) {
	ctx := c.Request.Context()
	view, err := h.Engine.Render(ctx, sc)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.Carts.SaveCart(ctx, sc); err != nil {
		h.respondError(c, err)
		return
	}
	view.Notices = append(notices, view.Notices...)
	c.JSON(http.StatusOK, view)
}

// mutate loads the session cart, applies fn and responds with the new view.
// A line dropped as unavailable is still saved before the error is returned.
func (h *Handler) mutate(c *gin.Context, fn mutation) {
	sc, ok := h.loadCart(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	notices, err := fn(ctx, sc)
	if errors.Is(err, cart.ErrUnavailable) {
		if serr := h.Carts.SaveCart(ctx, sc); serr != nil {
			err = serr
		}
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.render(c, sc, notices)
}

func (h *Handler) getCart(c *gin.Context) {
	sc, ok := h.loadCart(c)
	if !ok {
		return
	}
	h.render(c, sc, nil)
}

func (h *Handler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key := models.NewLineKey(req.ProductID, req.VariantID)
	h.mutate(c, func(ctx context.Context, sc *models.Cart) ([]cart.Notice, error) {
		return h.Engine.Add(ctx, sc, key, req.Quantity)
	})
}

func lineKey(c *gin.Context) (models.LineKey, bool) {
	key, err := models.ParseLineKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.LineKey{}, false
	}
	return key, true
}

func (h *Handler) setQuantity(c *gin.Context) {
	key, ok := lineKey(c)
	if !ok {
		return
	}
	var req setQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.mutate(c, func(ctx context.Context, sc *models.Cart) ([]cart.Notice, error) {
		return h.Engine.SetQuantity(ctx, sc, key, req.Quantity)
	})
}

func (h *Handler) removeItem(c *gin.Context) {
	key, ok := lineKey(c)
	if !ok {
		return
	}
	h.mutate(c, func(ctx context.Context, sc *models.Cart) ([]cart.Notice, error) {
		return nil, h.Engine.Remove(ctx, sc, key)
	})
}

func (h *Handler) clearCart(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, sc *models.Cart) ([]cart.Notice, error) {
		return nil, h.Engine.Clear(ctx, sc)
	})
}

func (h *Handler) applyCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.mutate(c, func(ctx context.Context, sc *models.Cart) ([]cart.Notice, error) {
		return h.Engine.ApplyCoupon(ctx, sc, req.Code)
	})
}

func (h *Handler) removeCoupon(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, sc *models.Cart) ([]cart.Notice, error) {
		h.Engine.RemoveCoupon(sc)
		return nil, nil
	})
}
