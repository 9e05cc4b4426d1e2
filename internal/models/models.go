package models

import "time"

// Category groups products in the catalog
type Category struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Product represents a sellable item. Price is in minor currency units.
type Product struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Price       int64     `db:"price" json:"price"`
	Stock       int       `db:"stock" json:"stock"`
	CategoryID  string    `db:"category_id" json:"category_id"`
	IsPublished bool      `db:"is_published" json:"is_published"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PaymentMethod is how the customer intends to pay
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
	PaymentCard           PaymentMethod = "CARD"
	PaymentQuoteOnly      PaymentMethod = "QUOTE_ONLY"
)

// Valid reports whether m is one of the known payment methods
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentBankTransfer, PaymentCard, PaymentQuoteOnly:
		return true
	}
	return false
}

// Payment statuses
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	PaymentStatusPaid   PaymentStatus = "PAID"
)

// Order represents a customer order
type Order struct {
	ID                 string        `db:"id" json:"id"`
	CustomerName       string        `db:"customer_name" json:"customer_name"`
	CustomerEmail      string        `db:"customer_email" json:"customer_email"`
	CustomerPhone      string        `db:"customer_phone" json:"customer_phone"`
	ShippingAddress    string        `db:"shipping_address" json:"shipping_address"`
	ShippingCity       string        `db:"shipping_city" json:"shipping_city"`
	ShippingPostalCode string        `db:"shipping_postal_code" json:"shipping_postal_code"`
	ShippingCountry    string        `db:"shipping_country" json:"shipping_country"`
	TotalAmount        int64         `db:"total_amount" json:"total_amount"`
	Status             OrderStatus   `db:"status" json:"status"`
	PaymentMethod      PaymentMethod `db:"payment_method" json:"payment_method"`
	PaymentStatus      PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentReference   string        `db:"payment_reference" json:"payment_reference,omitempty"`
	IdempotencyKey     string        `db:"idempotency_key" json:"idempotency_key,omitempty"`
	InternalNotes      string        `db:"internal_notes" json:"internal_notes,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// OrderItem represents items in an order. UnitPrice is captured at purchase time.
type OrderItem struct {
	ID               int64  `db:"id" json:"id"`
	OrderID          string `db:"order_id" json:"order_id"`
	ProductID        string `db:"product_id" json:"product_id"`
	ProductName      string `db:"product_name" json:"product_name"`
	Quantity         int    `db:"quantity" json:"quantity"`
	UnitPrice        int64  `db:"unit_price" json:"unit_price"`
	Subtotal         int64  `db:"subtotal" json:"subtotal"`
	SelectedMaterial string `db:"selected_material" json:"selected_material,omitempty"`
	SelectedColor    string `db:"selected_color" json:"selected_color,omitempty"`
}

// OrderView is what a customer sees when tracking an order
type OrderView struct {
	ID            string        `json:"id"`
	CustomerName  string        `json:"customer_name"`
	TotalAmount   int64         `json:"total_amount"`
	Status        OrderStatus   `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Items         []OrderItem   `json:"items"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewOrderView strips admin-only fields from an order
func NewOrderView(o *Order, items []OrderItem) *OrderView {
	return &OrderView{
		ID:            o.ID,
		CustomerName:  o.CustomerName,
		TotalAmount:   o.TotalAmount,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		Items:         items,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// OrderFilter narrows admin order listings
type OrderFilter struct {
	Status OrderStatus
	Limit  int
	Offset int
}

// Booking is a consultation slot request
type Booking struct {
	ID            string        `db:"id" json:"id"`
	Name          string        `db:"name" json:"name"`
	Email         string        `db:"email" json:"email"`
	Phone         string        `db:"phone" json:"phone"`
	Date          time.Time     `db:"booking_date" json:"date"`
	TimeSlot      string        `db:"time_slot" json:"time_slot"`
	Message       string        `db:"message" json:"message,omitempty"`
	Status        BookingStatus `db:"status" json:"status"`
	InternalNotes string        `db:"internal_notes" json:"internal_notes,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// BookingFilter narrows admin booking listings
type BookingFilter struct {
	Status BookingStatus
	Limit  int
	Offset int
}

// CheckoutIntent records a card checkout between session creation and
// gateway-confirmed payment. Payload is the validated checkout request;
// IdempotencyKey is the client key of the submission that opened the session.
type CheckoutIntent struct {
	SessionID      string     `db:"session_id" json:"session_id"`
	Payload        []byte     `db:"payload" json:"-"`
	Amount         int64      `db:"amount" json:"amount"`
	Currency       string     `db:"currency" json:"currency"`
	PaymentURL     string     `db:"payment_url" json:"payment_url,omitempty"`
	OrderID        string     `db:"order_id" json:"order_id,omitempty"`
	IdempotencyKey string     `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
