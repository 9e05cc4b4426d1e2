package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/payment"
	"storefront/internal/ratelimit"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const honeypotPeriod = 24 * time.Hour

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var publisher broker.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		publisher = broker.NewLogPublisher()
		logger.Warn("No Kafka brokers configured, notifications are only logged")
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	dispatcher := worker.NewDispatcher(publisher, worker.Options{
		Workers:         cfg.Notification.Workers,
		QueueSize:       cfg.Notification.QueueSize,
		MaxRetries:      cfg.Notification.MaxRetries,
		InitialInterval: cfg.Notification.InitialInterval,
		MaxInterval:     cfg.Notification.MaxInterval,
	})
	dispatcher.Start(bgCtx)

	rules := ratelimit.Rules{
		ratelimit.ClassCheckout: {Limit: cfg.RateLimit.Checkout.Limit, Window: cfg.RateLimit.Checkout.Window},
		ratelimit.ClassContact:  {Limit: cfg.RateLimit.Contact.Limit, Window: cfg.RateLimit.Contact.Window},
		ratelimit.ClassBooking:  {Limit: cfg.RateLimit.Booking.Limit, Window: cfg.RateLimit.Booking.Window},
	}
	bots := ratelimit.NewBotTracker(honeypotPeriod)

	g, gCtx := errgroup.WithContext(bgCtx)
	g.Go(func() error { return bots.Run(gCtx, cfg.RateLimit.SweepInterval) })

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		limiter = ratelimit.NewRedisLimiter(redisClient, rules)
	default:
		mem := ratelimit.NewMemoryLimiter(rules)
		g.Go(func() error { return mem.Run(gCtx, cfg.RateLimit.SweepInterval) })
		limiter = mem
	}
	logger.Info("Rate limiter initialized", zap.String("backend", cfg.RateLimit.Backend))

	var (
		gateway  payment.Gateway
		webhooks payment.WebhookVerifier
	)
	if cfg.Payment.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.Payment.StripeSecretKey, cfg.Payment.SuccessURL, cfg.Payment.CancelURL)
		if cfg.Payment.StripeWebhookSecret != "" {
			webhooks = payment.NewStripeWebhookVerifier(cfg.Payment.StripeWebhookSecret)
		}
		logger.Info("Card payments enabled")
	} else {
		logger.Warn("No payment gateway configured, card checkout is disabled")
	}

	var authenticators []auth.Authenticator
	if cfg.Auth.SessionSecret != "" {
		authenticators = append(authenticators, auth.NewSessionAuth(cfg.Auth.SessionSecret, cfg.Auth.SessionCookie))
	}
	if cfg.Auth.APIKeyHash != "" {
		authenticators = append(authenticators, auth.NewAPIKeyAuth(cfg.Auth.APIKeyHash))
	}
	if len(authenticators) == 0 {
		logger.Warn("No admin credentials configured, admin routes will reject every request")
	}

	currency := cfg.Payment.Currency
	checkoutService := service.NewCheckoutService(db, gateway, dispatcher, currency)
	orderStateMachine := service.NewOrderStateMachine(db, dispatcher, redisClient, currency)
	reconciler := service.NewPaymentReconciler(gateway, db, checkoutService, dispatcher, currency)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Checkout:  checkoutService,
		Payments:  reconciler,
		Orders:    orderStateMachine,
		Bookings:  service.NewBookingService(db, dispatcher, cfg.Booking.TimeSlots),
		Contact:   service.NewContactService(dispatcher),
		Tracking:  service.NewTrackingService(db, redisClient),
		Catalog:   service.NewCatalogService(db),
		Carts:     service.NewCartService(redisClient, db),
		Webhooks:  webhooks,
		Auth:      auth.Chain(authenticators...),
		Limiter:   limiter,
		Bots:      bots,
		Readiness: map[string]api.Pinger{"postgres": db, "redis": redisClient},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// drain notifications raised by the last requests before stopping retries
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Notification.DrainTimeout)
	defer drainCancel()
	dispatcher.Stop(drainCtx)
	bgCancel()
	if err := g.Wait(); err != nil {
		logger.Warn("Background task error", zap.Error(err))
	}

	logger.Info("Server exited")
}
