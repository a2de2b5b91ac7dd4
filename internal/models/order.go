package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultOrderStatus is applied when an order is submitted without a status
const DefaultOrderStatus = "pending"

// OrderItem represents a single line of an order
type OrderItem struct {
	SKU      string          `json:"sku" validate:"required"`
	Name     string          `json:"name" validate:"required"`
	Quantity int             `json:"quantity" validate:"gt=0"`
	Price    decimal.Decimal `json:"price"`
}

// Order represents a customer order.
// CustomerID references Customer.CustomerID and is not enforced at write time.
type Order struct {
	ID         int64           `json:"-" db:"id"`
	OrderID    string          `json:"order_id" db:"order_id"`
	CustomerID string          `json:"customer_id" db:"customer_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Items      []OrderItem     `json:"items" db:"items"`
	OrderDate  time.Time       `json:"order_date" db:"order_date"`
	Status     string          `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
