package api

import (
	"net/http"
	"strconv"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/gin-gonic/gin"
)

type statusRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

// page reads limit and offset from the query string
func page(c *gin.Context) (limit, offset int, err error) {
	fields := map[string]string{}
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			fields["limit"] = "must be a non-negative integer"
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			fields["offset"] = "must be a non-negative integer"
		}
	}
	if len(fields) > 0 {
		return 0, 0, apperr.Validation("invalid paging", fields)
	}
	return limit, offset, nil
}

func (h *Handler) listOrders(c *gin.Context) {
	limit, offset, err := page(c)
	if err != nil {
		writeError(c, err)
		return
	}

	orders, err := h.Orders.List(c.Request.Context(), models.OrderFilter{
		Status: models.OrderStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns the full order including internal notes
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	order, err := h.Orders.TransitionStatus(c.Request.Context(), c.Param("id"), models.OrderStatus(req.Status), req.Note, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) markOrderPaid(c *gin.Context) {
	order, err := h.Orders.MarkPaid(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) purgeOrder(c *gin.Context) {
	if err := h.Orders.Purge(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listBookings(c *gin.Context) {
	limit, offset, err := page(c)
	if err != nil {
		writeError(c, err)
		return
	}

	bookings, err := h.Bookings.List(c.Request.Context(), models.BookingFilter{
		Status: models.BookingStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *Handler) updateBookingStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	b, err := h.Bookings.TransitionStatus(c.Request.Context(), c.Param("id"), models.BookingStatus(req.Status), req.Note, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) restockProduct(c *gin.Context) {
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	stock, err := h.Catalog.Restock(c.Request.Context(), c.Param("id"), req.Quantity, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": c.Param("id"),
		"stock":      stock,
	})
}

func (h *Handler) deleteCategory(c *gin.Context) {
	if err := h.Catalog.DeleteCategory(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
