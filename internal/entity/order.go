package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
	OrderTypePOS      OrderType = "pos"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDineIn, OrderTypeTakeaway, OrderTypeDelivery, OrderTypePickup, OrderTypePOS:
		return true
	}
	return false
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

var nextStatus = map[OrderStatus]OrderStatus{
	StatusPending:   StatusConfirmed,
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusCompleted,
}

func (s OrderStatus) Valid() bool {
	_, ok := nextStatus[s]
	return ok || s == StatusCompleted || s == StatusCancelled
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether staff may move an order from s to next.
// Orders only advance one step at a time; any non-terminal order can be cancelled.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return nextStatus[s] == next
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentOnline PaymentMethod = "online"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentOnline:
		return true
	}
	return false
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	OrderType       OrderType       `json:"order_type"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Status          OrderStatus     `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Items           []OrderItem     `json:"order_items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem is an immutable copy of a cart line taken when the order is created.
type OrderItem struct {
	ID         string          `json:"id,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	FoodItemID string          `json:"food_item_id"`
	SizeID     *string         `json:"size_id,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Notes      string          `json:"notes,omitempty"`
	FoodItem   *FoodItem       `json:"food_items,omitempty"`
	Size       *ItemSize       `json:"item_sizes,omitempty"`
}

// OrderRequest is the body of the atomic order-creation call.
type OrderRequest struct {
	ID              string          `json:"id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	Items           []OrderItem     `json:"order_items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	OrderType       OrderType       `json:"order_type"`
	PaymentMethod   PaymentMethod   `json:"payment_method,omitempty"`
	PaymentStatus   PaymentStatus   `json:"payment_status,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	IdempotentKey   string          `json:"-"`
}

type SalesRow struct {
	Day     string          `json:"day"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

/*
MySQL tables:

CREATE TABLE orders (
	id CHAR(36) PRIMARY KEY,
	user_id CHAR(36) NULL,
	order_type VARCHAR(20) NOT NULL,
	status VARCHAR(20) NOT NULL,
	payment_method VARCHAR(20) NOT NULL,
	payment_status VARCHAR(20) NOT NULL,
	subtotal DECIMAL(10,2) NOT NULL,
	tax_amount DECIMAL(10,2) NOT NULL,
	total_amount DECIMAL(10,2) NOT NULL,
	...
);

CREATE TABLE order_items (
	id CHAR(36) PRIMARY KEY,
	order_id CHAR(36) NOT NULL REFERENCES orders(id),
	food_item_id CHAR(36) NOT NULL,
	size_id CHAR(36) NULL,
	quantity INT NOT NULL,
	unit_price DECIMAL(10,2) NOT NULL,
	total_price DECIMAL(10,2) NOT NULL,
	notes TEXT NULL
);
*/
