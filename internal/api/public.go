package api

import (
	"io"
	"net/http"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/ratelimit"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// checkout handles order submission
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	if h.trapped(c, ratelimit.ClassCheckout, req.Website) {
		c.JSON(http.StatusCreated, gin.H{"order_id": uuid.NewString()})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.Checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	switch {
	case res.SessionID != "":
		c.JSON(http.StatusAccepted, res)
	case res.Existing:
		c.JSON(http.StatusOK, res)
	default:
		c.JSON(http.StatusCreated, res)
	}
}

// confirmCheckout is the card payment return URL
func (h *Handler) confirmCheckout(c *gin.Context) {
	conf, err := h.Payments.Confirm(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if conf.Existing {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"order_id":       conf.OrderID,
		"idempotent":     conf.Existing,
		"paid":           conf.Session.Paid,
		"amount":         conf.Session.Amount,
		"currency":       conf.Session.Currency,
		"customer_email": conf.Session.CustomerEmail,
	})
}

func (h *Handler) getPaymentSession(c *gin.Context) {
	status, err := h.Payments.Retrieve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// paymentWebhook only uses the event as a hint; Confirm re-queries the gateway
func (h *Handler) paymentWebhook(c *gin.Context) {
	if h.Webhooks == nil {
		writeError(c, apperr.NotFound("webhook endpoint"))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		badBody(c, err)
		return
	}

	event, err := h.Webhooks.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("Webhook signature rejected", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		writeError(c, apperr.Validation("invalid signature", nil))
		return
	}

	if !payment.Confirms(event.Type) {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	conf, err := h.Payments.Confirm(c.Request.Context(), event.SessionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInfrastructure {
			// non-2xx makes the gateway redeliver
			writeError(c, err)
			return
		}
		h.logger.Warn("Webhook confirmation rejected",
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "order_id": conf.OrderID})
}

// trackOrder handles the customer order lookup
func (h *Handler) trackOrder(c *gin.Context) {
	view, err := h.Tracking.Track(c.Request.Context(), c.Param("id"), c.Query("email"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) createBooking(c *gin.Context) {
	var req service.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	if h.trapped(c, ratelimit.ClassBooking, req.Website) {
		c.JSON(http.StatusCreated, gin.H{"id": uuid.NewString(), "status": models.BookingStatusPending})
		return
	}

	b, err := h.Bookings.Create(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": b.ID, "status": b.Status})
}

func (h *Handler) submitContact(c *gin.Context) {
	var req service.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	if h.trapped(c, ratelimit.ClassContact, req.Website) {
		c.JSON(http.StatusCreated, gin.H{"id": uuid.NewString()})
		return
	}

	id, err := h.Contact.Submit(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
