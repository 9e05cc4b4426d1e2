package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/ratelimit"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Checkout interface {
	Checkout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResult, error)
}

type Payments interface {
	Retrieve(ctx context.Context, sessionID string) (*payment.SessionStatus, error)
	Confirm(ctx context.Context, sessionID string) (*service.Confirmation, error)
}

type Orders interface {
	TransitionStatus(ctx context.Context, orderID string, status models.OrderStatus, note *string, actor string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID, actor string) (*models.Order, error)
	Purge(ctx context.Context, orderID, actor string) error
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	Get(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error)
}

type Bookings interface {
	Create(ctx context.Context, req *service.BookingRequest) (*models.Booking, error)
	TransitionStatus(ctx context.Context, bookingID string, status models.BookingStatus, note *string, actor string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
}

type Contact interface {
	Submit(ctx context.Context, req *service.ContactRequest) (string, error)
}

type Tracking interface {
	Track(ctx context.Context, orderID, email string) (*models.OrderView, error)
}

type Catalog interface {
	Restock(ctx context.Context, productID string, quantity int, actor string) (int, error)
	DeleteCategory(ctx context.Context, categoryID, actor string) error
}

type Carts interface {
	Get(ctx context.Context, token string) (*cart.Cart, error)
	AddItem(ctx context.Context, token string, req *service.CartItemRequest) (*cart.Cart, error)
	UpdateItem(ctx context.Context, token string, req *service.CartItemRequest) (*cart.Cart, error)
	RemoveItem(ctx context.Context, token string, key cart.Key) (*cart.Cart, error)
	Clear(ctx context.Context, token string) error
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handler. Webhooks, Limiter and Bots may be nil.
type Deps struct {
	Checkout  Checkout
	Payments  Payments
	Orders    Orders
	Bookings  Bookings
	Contact   Contact
	Tracking  Tracking
	Catalog   Catalog
	Carts     Carts
	Webhooks  payment.WebhookVerifier
	Auth      auth.Authenticator
	Limiter   ratelimit.Limiter
	Bots      *ratelimit.BotTracker
	Readiness map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps, logger: util.GetLogger()}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.rateLimit(ratelimit.ClassCheckout), h.checkout)
		v1.GET("/checkout/confirm", h.confirmCheckout)
		v1.GET("/payments/sessions/:id", h.getPaymentSession)
		v1.POST("/payments/webhook", h.paymentWebhook)

		v1.GET("/orders/:id", h.trackOrder)

		v1.POST("/bookings", h.rateLimit(ratelimit.ClassBooking), h.createBooking)
		v1.POST("/contact", h.rateLimit(ratelimit.ClassContact), h.submitContact)

		v1.GET("/carts/:token", h.getCart)
		v1.DELETE("/carts/:token", h.clearCart)
		v1.POST("/carts/:token/items", h.addCartItem)
		v1.PATCH("/carts/:token/items", h.updateCartItem)
		v1.DELETE("/carts/:token/items", h.removeCartItem)
	}

	admin := v1.Group("/admin", h.RequireAdmin())
	{
		admin.GET("/orders", h.listOrders)
		admin.GET("/orders/:id", h.getOrder)
		admin.PATCH("/orders/:id/status", h.updateOrderStatus)
		admin.POST("/orders/:id/payment", h.markOrderPaid)
		admin.DELETE("/orders/:id", h.purgeOrder)

		admin.GET("/bookings", h.listBookings)
		admin.PATCH("/bookings/:id/status", h.updateBookingStatus)

		admin.POST("/products/:id/restock", h.restockProduct)
		admin.DELETE("/categories/:id", h.deleteCategory)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Readiness))
	for name, p := range h.Readiness {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
