package api

import (
	"context"
	"net/http"

	"storefront/internal/apperr"
	"storefront/internal/cart"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

const maxCartToken = 128

func cartToken(c *gin.Context) (string, bool) {
	token := c.Param("token")
	if len(token) > maxCartToken {
		writeError(c, apperr.Validation("invalid cart token", map[string]string{"token": "must be at most 128 characters"}))
		return "", false
	}
	return token, true
}

func cartBody(ct *cart.Cart) gin.H {
	return gin.H{
		"lines":      ct.Lines,
		"item_count": ct.ItemCount(),
		"subtotal":   ct.Subtotal(),
	}
}

func (h *Handler) getCart(c *gin.Context) {
	token, ok := cartToken(c)
	if !ok {
		return
	}
	ct, err := h.Carts.Get(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartBody(ct))
}

func (h *Handler) clearCart(c *gin.Context) {
	token, ok := cartToken(c)
	if !ok {
		return
	}
	if err := h.Carts.Clear(c.Request.Context(), token); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) addCartItem(c *gin.Context) {
	h.changeCart(c, h.Carts.AddItem)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	h.changeCart(c, h.Carts.UpdateItem)
}

func (h *Handler) changeCart(c *gin.Context, apply func(ctx context.Context, token string, req *service.CartItemRequest) (*cart.Cart, error)) {
	token, ok := cartToken(c)
	if !ok {
		return
	}
	var req service.CartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	ct, err := apply(c.Request.Context(), token, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartBody(ct))
}

// removeCartItem takes the line key from the query string
func (h *Handler) removeCartItem(c *gin.Context) {
	token, ok := cartToken(c)
	if !ok {
		return
	}
	key := cart.Key{
		ProductID:        c.Query("product_id"),
		SelectedMaterial: c.Query("selected_material"),
		SelectedColor:    c.Query("selected_color"),
	}
	if key.ProductID == "" {
		writeError(c, apperr.Validation("invalid request", map[string]string{"product_id": "is required"}))
		return
	}

	ct, err := h.Carts.RemoveItem(c.Request.Context(), token, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartBody(ct))
}
