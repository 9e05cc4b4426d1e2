package models

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Notification event types consumed by the notification service
const (
	EventTypeOrderConfirmation   = "order_confirmation"
	EventTypeOrderStatusUpdate   = "order_status_update"
	EventTypePaymentConfirmation = "payment_confirmation"
	EventTypeQuoteRequest        = "quote_request"
	EventTypeBookingRequest      = "booking_request"
	EventTypeBookingStatusUpdate = "booking_status_update"
	EventTypeContactMessage      = "contact_message"
)

// Event is anything the notification dispatcher can deliver
type Event interface {
	Meta() BaseEvent
	// SubjectID is the order, booking or contact id the event is about.
	SubjectID() string
	PartitionKey() string
}

// StatusChange is implemented by events that describe a status transition
type StatusChange interface {
	Transition() (oldStatus, newStatus string)
}

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func (b BaseEvent) Meta() BaseEvent { return b }

// NewBaseEvent stamps a new event with a sortable id
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   ulid.Make().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// Recipient is who the notification service should contact
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	Quantity         int    `json:"quantity"`
	UnitPrice        int64  `json:"unit_price"`
	Subtotal         int64  `json:"subtotal"`
	SelectedMaterial string `json:"selected_material,omitempty"`
	SelectedColor    string `json:"selected_color,omitempty"`
}

// OrderConfirmationEvent published when an order is created
type OrderConfirmationEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	Customer      Recipient       `json:"customer"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TotalAmount   int64           `json:"total_amount"`
	TotalDisplay  string          `json:"total_display"`
	Items         []OrderItemData `json:"items"`
}

func (e *OrderConfirmationEvent) SubjectID() string    { return e.OrderID }
func (e *OrderConfirmationEvent) PartitionKey() string { return "order-" + e.OrderID }

// QuoteRequestEvent published instead of a confirmation for QUOTE_ONLY orders
type QuoteRequestEvent struct {
	BaseEvent
	OrderID      string          `json:"order_id"`
	Customer     Recipient       `json:"customer"`
	TotalAmount  int64           `json:"total_amount"`
	TotalDisplay string          `json:"total_display"`
	Items        []OrderItemData `json:"items"`
}

func (e *QuoteRequestEvent) SubjectID() string    { return e.OrderID }
func (e *QuoteRequestEvent) PartitionKey() string { return "order-" + e.OrderID }

// OrderStatusUpdateEvent published when an admin changes order status
type OrderStatusUpdateEvent struct {
	BaseEvent
	OrderID   string      `json:"order_id"`
	Customer  Recipient   `json:"customer"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
}

func (e *OrderStatusUpdateEvent) SubjectID() string    { return e.OrderID }
func (e *OrderStatusUpdateEvent) PartitionKey() string { return "order-" + e.OrderID }
func (e *OrderStatusUpdateEvent) Transition() (string, string) {
	return string(e.OldStatus), string(e.NewStatus)
}

// PaymentConfirmationEvent published when payment is confirmed by the gateway or an admin
type PaymentConfirmationEvent struct {
	BaseEvent
	OrderID       string        `json:"order_id"`
	Customer      Recipient     `json:"customer"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Amount        int64         `json:"amount"`
	AmountDisplay string        `json:"amount_display"`
	Reference     string        `json:"reference,omitempty"`
}

func (e *PaymentConfirmationEvent) SubjectID() string    { return e.OrderID }
func (e *PaymentConfirmationEvent) PartitionKey() string { return "order-" + e.OrderID }

// BookingRequestEvent published when a consultation is requested
type BookingRequestEvent struct {
	BaseEvent
	BookingID string    `json:"booking_id"`
	Customer  Recipient `json:"customer"`
	Date      string    `json:"date"`
	TimeSlot  string    `json:"time_slot"`
	Message   string    `json:"message,omitempty"`
}

func (e *BookingRequestEvent) SubjectID() string    { return e.BookingID }
func (e *BookingRequestEvent) PartitionKey() string { return "booking-" + e.BookingID }

// BookingStatusUpdateEvent published when an admin changes booking status
type BookingStatusUpdateEvent struct {
	BaseEvent
	BookingID string        `json:"booking_id"`
	Customer  Recipient     `json:"customer"`
	Date      string        `json:"date"`
	TimeSlot  string        `json:"time_slot"`
	OldStatus BookingStatus `json:"old_status"`
	NewStatus BookingStatus `json:"new_status"`
}

func (e *BookingStatusUpdateEvent) SubjectID() string    { return e.BookingID }
func (e *BookingStatusUpdateEvent) PartitionKey() string { return "booking-" + e.BookingID }
func (e *BookingStatusUpdateEvent) Transition() (string, string) {
	return string(e.OldStatus), string(e.NewStatus)
}

// ContactMessageEvent published for contact and quote form submissions
type ContactMessageEvent struct {
	BaseEvent
	ContactID string    `json:"contact_id"`
	Customer  Recipient `json:"customer"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
}

func (e *ContactMessageEvent) SubjectID() string    { return e.ContactID }
func (e *ContactMessageEvent) PartitionKey() string { return "contact-" + e.ContactID }

var zeroDecimalCurrencies = map[string]bool{"jpy": true, "krw": true, "vnd": true}

// FormatAmount renders minor units for humans, e.g. 20000 usd -> "200.00 USD"
func FormatAmount(amount int64, currency string) string {
	cur := strings.ToLower(currency)
	if zeroDecimalCurrencies[cur] {
		return decimal.New(amount, 0).String() + " " + strings.ToUpper(cur)
	}
	return decimal.New(amount, -2).StringFixed(2) + " " + strings.ToUpper(cur)
}

// ItemsData converts order items for event payloads
func ItemsData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItemData{
			ProductID:        it.ProductID,
			ProductName:      it.ProductName,
			Quantity:         it.Quantity,
			UnitPrice:        it.UnitPrice,
			Subtotal:         it.Subtotal,
			SelectedMaterial: it.SelectedMaterial,
			SelectedColor:    it.SelectedColor,
		})
	}
	return out
}
