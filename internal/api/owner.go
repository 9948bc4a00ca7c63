package api

import (
	"net/http"
	"strconv"

	"storefront/internal/models"

	"github.com/gin-gonic/gin"
)

type bulkRequest struct {
	Action string  `json:"action" binding:"required,oneof=activate deactivate delete"`
	IDs    []int64 `json:"ids" binding:"required,min=1,dive,gt=0"`
}

func (h *Handler) ownerRoutes(g *gin.RouterGroup) {
	g.GET("/products", h.ownerListProducts)
	g.POST("/products", h.ownerCreateProduct)
	g.POST("/products/batch", h.ownerBatchProducts)
	g.POST("/products/bulk", h.ownerBulkProducts)
	g.GET("/products/:id", h.ownerGetProduct)
	g.PUT("/products/:id", h.ownerUpdateProduct)
	g.POST("/products/:id/toggle", h.ownerToggleProduct)
	g.DELETE("/products/:id", h.ownerDeleteProduct)

	g.POST("/products/:id/variants", h.ownerCreateVariant)
	g.PUT("/products/:id/variants/:vid", h.ownerUpdateVariant)
	g.DELETE("/products/:id/variants/:vid", h.ownerDeleteVariant)

	g.GET("/offers", h.ownerListOffers)
	g.POST("/offers", h.ownerCreateOffer)
	g.PUT("/offers/:id", h.ownerUpdateOffer)
	g.DELETE("/offers/:id", h.ownerDeleteOffer)

	g.GET("/coupons", h.ownerListCoupons)
	g.POST("/coupons", h.ownerCreateCoupon)
	g.PUT("/coupons/:id", h.ownerUpdateCoupon)
	g.DELETE("/coupons/:id", h.ownerDeleteCoupon)

	g.GET("/orders", h.ownerListOrders)
}

func (h *Handler) ownerListProducts(c *gin.Context) {
	products, err := h.Owner.ListProducts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) ownerGetProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.Owner.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ownerCreateProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Owner.CreateProduct(c.Request.Context(), &p); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) ownerBatchProducts(c *gin.Context) {
	var products []models.Product
	if err := c.ShouldBindJSON(&products); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": h.Owner.CreateProducts(c.Request.Context(), products)})
}

func (h *Handler) ownerBulkProducts(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.Owner.BulkProducts(c.Request.Context(), req.Action, req.IDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"affected": n})
}

func (h *Handler) ownerUpdateProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	p.ID = id
	if err := h.Owner.UpdateProduct(c.Request.Context(), &p); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ownerToggleProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.Owner.ToggleProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ownerDeleteProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Owner.DeleteProduct(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func variantID(c *gin.Context) (int64, bool) {
	vid, err := strconv.ParseInt(c.Param("vid"), 10, 64)
	if err != nil || vid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid variant id"})
		return 0, false
	}
	return vid, true
}

func (h *Handler) ownerCreateVariant(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var v models.Variant
	if err := c.ShouldBindJSON(&v); err != nil {
		badRequest(c, err)
		return
	}
	v.ProductID = id
	if err := h.Owner.CreateVariant(c.Request.Context(), &v); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) ownerUpdateVariant(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	vid, ok := variantID(c)
	if !ok {
		return
	}
	var v models.Variant
	if err := c.ShouldBindJSON(&v); err != nil {
		badRequest(c, err)
		return
	}
	v.ID, v.ProductID = vid, id
	if err := h.Owner.UpdateVariant(c.Request.Context(), &v); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) ownerDeleteVariant(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	vid, ok := variantID(c)
	if !ok {
		return
	}
	if err := h.Owner.DeleteVariant(c.Request.Context(), id, vid); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownerListOffers(c *gin.Context) {
	offers, err := h.Owner.ListOffers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func (h *Handler) ownerCreateOffer(c *gin.Context) {
	var o models.Offer
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Owner.CreateOffer(c.Request.Context(), &o); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) ownerUpdateOffer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var o models.Offer
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, err)
		return
	}
	o.ID = id
	if err := h.Owner.UpdateOffer(c.Request.Context(), &o); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) ownerDeleteOffer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Owner.DeleteOffer(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownerListCoupons(c *gin.Context) {
	coupons, err := h.Owner.ListCoupons(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (h *Handler) ownerCreateCoupon(c *gin.Context) {
	var cp models.Coupon
	if err := c.ShouldBindJSON(&cp); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Owner.CreateCoupon(c.Request.Context(), &cp); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h *Handler) ownerUpdateCoupon(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var cp models.Coupon
	if err := c.ShouldBindJSON(&cp); err != nil {
		badRequest(c, err)
		return
	}
	cp.ID = id
	if err := h.Owner.UpdateCoupon(c.Request.Context(), &cp); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) ownerDeleteCoupon(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Owner.DeleteCoupon(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownerListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	orders, err := h.Owner.ListOrders(c.Request.Context(), models.OrderState(c.Query("state")), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

