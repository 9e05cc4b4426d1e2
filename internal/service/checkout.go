package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutItem is one requested line. Any client-side price is ignored.
type CheckoutItem struct {
	ProductID        string `json:"product_id" validate:"required,max=64"`
	Quantity         int    `json:"quantity" validate:"min=1,max=1000"`
	SelectedMaterial string `json:"selected_material,omitempty" validate:"max=100"`
	SelectedColor    string `json:"selected_color,omitempty" validate:"max=100"`
	UnitPrice        int64  `json:"unit_price,omitempty"`
}

type CustomerInfo struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"required,max=50"`
}

type ShippingInfo struct {
	Address    string `json:"address" validate:"required,max=500"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

type CheckoutRequest struct {
	Items          []CheckoutItem       `json:"items" validate:"required,min=1,max=50,dive"`
	Customer       CustomerInfo         `json:"customer"`
	Shipping       ShippingInfo         `json:"shipping"`
	PaymentMethod  models.PaymentMethod `json:"payment_method" validate:"required,oneof=CASH_ON_DELIVERY BANK_TRANSFER CARD QUOTE_ONLY"`
	IdempotencyKey string               `json:"idempotency_key,omitempty" validate:"max=255"`
	Website        string               `json:"website,omitempty"`
}

type CheckoutResult struct {
	OrderID    string `json:"order_id,omitempty"`
	Existing   bool   `json:"idempotent,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	PaymentURL string `json:"payment_url,omitempty"`
}

// Placement carries what the caller already knows about payment when an order is placed
type Placement struct {
	PaymentStatus    models.PaymentStatus
	PaymentReference string
	IdempotencyKey   string
}

// CheckoutService turns a validated cart into an order, reserving stock in
// the same transaction.
type CheckoutService struct {
	store    Store
	gateway  payment.Gateway
	notifier Notifier
	currency string
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service. gateway may be nil when
// card payments are not configured.
func NewCheckoutService(store Store, gateway payment.Gateway, notifier Notifier, currency string) *CheckoutService {
	return &CheckoutService{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		currency: currency,
		logger:   util.GetLogger(),
	}
}

// Checkout validates req and either places the order or, for card payments,
// opens a gateway session.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	if err := validateStruct(req); err != nil {
		util.CheckoutFailedTotal.WithLabelValues(string(apperr.KindValidation)).Inc()
		return nil, err
	}

	if req.PaymentMethod == models.PaymentCard {
		res, err := s.startCardSession(ctx, req)
		util.SpanError(span, err)
		return res, err
	}

	order, existing, err := s.placeOrder(ctx, req, Placement{
		PaymentStatus:  models.PaymentStatusUnpaid,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	return &CheckoutResult{OrderID: order.ID, Existing: existing}, nil
}

// PlaceOrder creates the order and decrements stock atomically. The bool is
// true when an order with the same idempotency key already existed.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req *CheckoutRequest, p Placement) (*models.Order, bool, error) {
	if err := validateStruct(req); err != nil {
		return nil, false, err
	}
	return s.placeOrder(ctx, req, p)
}

func (s *CheckoutService) placeOrder(ctx context.Context, req *CheckoutRequest, p Placement) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if p.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return nil, false, s.infra(ctx, "idempotency lookup", err)
		}
		if existing != nil {
			s.replayed(existing, p.IdempotencyKey)
			return existing, true, nil
		}
	}

	order := &models.Order{
		ID:                 uuid.NewString(),
		CustomerName:       req.Customer.Name,
		CustomerEmail:      req.Customer.Email,
		CustomerPhone:      req.Customer.Phone,
		ShippingAddress:    req.Shipping.Address,
		ShippingCity:       req.Shipping.City,
		ShippingPostalCode: req.Shipping.PostalCode,
		ShippingCountry:    req.Shipping.Country,
		Status:             models.OrderStatusPending,
		PaymentMethod:      req.PaymentMethod,
		PaymentStatus:      p.PaymentStatus,
		PaymentReference:   p.PaymentReference,
		IdempotencyKey:     p.IdempotencyKey,
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = models.PaymentStatusUnpaid
	}

	var items []models.OrderItem
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		wants := demand(req.Items)

		ids := make([]string, 0, len(wants))
		for _, w := range wants {
			ids = append(ids, w.productID)
		}
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		priced, total, err := priceItems(order.ID, req.Items, products)
		if err != nil {
			return err
		}

		for _, w := range wants {
			ok, err := tx.DecrementStock(ctx, w.productID, w.quantity)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.StockConflict(shortLines(req.Items, w, products[w.productID].Stock)...)
			}
		}

		order.TotalAmount = total
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, priced); err != nil {
			return err
		}
		items = priced
		return nil
	})

	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// lost the race to a concurrent submission with the same key
		existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, p.IdempotencyKey)
		if lookupErr != nil || existing == nil {
			return nil, false, s.infra(ctx, "idempotency reread", errors.Join(err, lookupErr))
		}
		s.replayed(existing, p.IdempotencyKey)
		return existing, true, nil
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			util.CheckoutFailedTotal.WithLabelValues(string(ae.Kind)).Inc()
			s.logger.Info("Checkout rejected", zap.String("code", ae.Code), zap.Any("lines", ae.Lines))
			return nil, false, err
		}
		return nil, false, s.infra(ctx, "place order", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.Int64("total_amount", order.TotalAmount),
		zap.String("payment_method", string(order.PaymentMethod)))

	s.notifier.Enqueue(orderPlacedEvent(order, items, s.currency))
	return order, false, nil
}

func (s *CheckoutService) startCardSession(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	if s.gateway == nil {
		return nil, s.infra(ctx, "card checkout", errors.New("payment gateway not configured"))
	}

	if req.IdempotencyKey != "" {
		res, err := s.existingCardCheckout(ctx, req.IdempotencyKey)
		if err != nil || res != nil {
			return res, err
		}
	}

	wants := demand(req.Items)
	ids := make([]string, 0, len(wants))
	for _, w := range wants {
		ids = append(ids, w.productID)
	}
	list, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, s.infra(ctx, "load products", err)
	}
	products := make(map[string]models.Product, len(list))
	for _, p := range list {
		products[p.ID] = p
	}

	priced, total, err := priceItems("", req.Items, products)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			util.CheckoutFailedTotal.WithLabelValues(string(ae.Kind)).Inc()
		}
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, s.infra(ctx, "encode checkout intent", err)
	}

	lines := make([]payment.SessionLine, 0, len(priced))
	for _, it := range priced {
		lines = append(lines, payment.SessionLine{Name: it.ProductName, UnitAmount: it.UnitPrice, Quantity: it.Quantity})
	}

	sess, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		Lines:         lines,
		Currency:      s.currency,
		CustomerEmail:  req.Customer.Email,
		Metadata:       map[string]string{"customer_email": req.Customer.Email},
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, s.infra(ctx, "create payment session", err)
	}

	intent := &models.CheckoutIntent{
		SessionID:      sess.ID,
		Payload:        payload,
		Amount:         total,
		Currency:       s.currency,
		PaymentURL:     sess.URL,
		IdempotencyKey: req.IdempotencyKey,
	}
	err = s.store.SaveCheckoutIntent(ctx, intent)
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// a concurrent submission with the same key opened its session first
		res, lookupErr := s.existingCardCheckout(ctx, req.IdempotencyKey)
		if lookupErr != nil || res == nil {
			return nil, s.infra(ctx, "card idempotency reread", errors.Join(err, lookupErr))
		}
		return res, nil
	}
	if err != nil {
		return nil, s.infra(ctx, "save checkout intent", err)
	}

	s.logger.Info("Payment session created", zap.String("session_id", sess.ID), zap.Int64("amount", total))
	return &CheckoutResult{SessionID: sess.ID, PaymentURL: sess.URL}, nil
}

// existingCardCheckout answers a retried card submission with the session it
// already opened, or with the order once that session was confirmed.
func (s *CheckoutService) existingCardCheckout(ctx context.Context, key string) (*CheckoutResult, error) {
	intent, err := s.store.GetCheckoutIntentByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, s.infra(ctx, "card idempotency lookup", err)
	}
	if intent == nil {
		return nil, nil
	}

	util.CheckoutIdempotentReplaysTotal.Inc()
	s.logger.Info("Duplicate card checkout detected",
		zap.String("idempotency_key", key),
		zap.String("session_id", intent.SessionID))
	if intent.OrderID != "" {
		return &CheckoutResult{OrderID: intent.OrderID, Existing: true}, nil
	}
	return &CheckoutResult{SessionID: intent.SessionID, PaymentURL: intent.PaymentURL, Existing: true}, nil
}

func (s *CheckoutService) replayed(order *models.Order, key string) {
	util.CheckoutIdempotentReplaysTotal.Inc()
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", order.ID))
}

func (s *CheckoutService) infra(ctx context.Context, op string, err error) error {
	util.CheckoutFailedTotal.WithLabelValues(string(apperr.KindInfrastructure)).Inc()
	util.LoggerFor(ctx).Error("Checkout failed", zap.String("op", op), zap.Error(err))
	return apperr.Infrastructure(op, err)
}

type productDemand struct {
	productID string
	quantity  int
}

// demand sums quantities per product across variant lines, sorted by product id
func demand(items []CheckoutItem) []productDemand {
	totals := make(map[string]int, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}
	out := make([]productDemand, 0, len(totals))
	for id, q := range totals {
		out = append(out, productDemand{productID: id, quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

// priceItems checks availability and stock for every line and prices them
// from the catalog.
func priceItems(orderID string, items []CheckoutItem, products map[string]models.Product) ([]models.OrderItem, int64, error) {
	var unavailable []apperr.LineIssue
	for i, it := range items {
		p, ok := products[it.ProductID]
		if !ok || !p.IsPublished {
			unavailable = append(unavailable, apperr.LineIssue{
				Index:     i,
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Reason:    "unavailable",
			})
		}
	}
	if len(unavailable) > 0 {
		return nil, 0, apperr.ProductUnavailable(unavailable...)
	}

	var short []apperr.LineIssue
	for _, w := range demand(items) {
		if w.quantity > products[w.productID].Stock {
			short = append(short, shortLines(items, w, products[w.productID].Stock)...)
		}
	}
	if len(short) > 0 {
		sort.Slice(short, func(i, j int) bool { return short[i].Index < short[j].Index })
		return nil, 0, apperr.StockConflict(short...)
	}

	out := make([]models.OrderItem, 0, len(items))
	var total int64
	for _, it := range items {
		p := products[it.ProductID]
		subtotal := p.Price * int64(it.Quantity)
		out = append(out, models.OrderItem{
			OrderID:          orderID,
			ProductID:        p.ID,
			ProductName:      p.Name,
			Quantity:         it.Quantity,
			UnitPrice:        p.Price,
			Subtotal:         subtotal,
			SelectedMaterial: it.SelectedMaterial,
			SelectedColor:    it.SelectedColor,
		})
		total += subtotal
	}
	return out, total, nil
}

// shortLines reports every line of the product that ran short
func shortLines(items []CheckoutItem, w productDemand, available int) []apperr.LineIssue {
	var out []apperr.LineIssue
	for i, it := range items {
		if it.ProductID == w.productID {
			out = append(out, apperr.LineIssue{
				Index:     i,
				ProductID: w.productID,
				Requested: w.quantity,
				Available: available,
				Reason:    "insufficient_stock",
			})
		}
	}
	return out
}

func orderPlacedEvent(order *models.Order, items []models.OrderItem, currency string) models.Event {
	if order.PaymentMethod == models.PaymentQuoteOnly {
		return &models.QuoteRequestEvent{
			BaseEvent:    models.NewBaseEvent(models.EventTypeQuoteRequest),
			OrderID:      order.ID,
			Customer:     recipient(order),
			TotalAmount:  order.TotalAmount,
			TotalDisplay: models.FormatAmount(order.TotalAmount, currency),
			Items:        models.ItemsData(items),
		}
	}
	return &models.OrderConfirmationEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderConfirmation),
		OrderID:       order.ID,
		Customer:      recipient(order),
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
		TotalDisplay:  models.FormatAmount(order.TotalAmount, currency),
		Items:         models.ItemsData(items),
	}
}
