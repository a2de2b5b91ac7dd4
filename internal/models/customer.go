package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer represents a customer in the system.
// CustomerID is the external key; ID is storage-internal and never referenced by other records.
type Customer struct {
	ID               int64           `json:"-" db:"id"`
	CustomerID       string          `json:"customer_id" db:"customer_id"`
	Name             string          `json:"name" db:"name"`
	Email            string          `json:"email" db:"email"`
	Phone            string          `json:"phone" db:"phone"`
	City             *string         `json:"city,omitempty" db:"city"`
	RegistrationDate time.Time       `json:"registration_date" db:"registration_date"`
	TotalSpent       decimal.Decimal `json:"total_spent" db:"total_spent"`
	TotalOrders      int             `json:"total_orders" db:"total_orders"`
	LastOrderDate    *time.Time      `json:"last_order_date,omitempty" db:"last_order_date"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// ApplyOrder accumulates an order into the customer's aggregates
func (c *Customer) ApplyOrder(amount decimal.Decimal, orderDate time.Time) {
	c.TotalSpent = c.TotalSpent.Add(amount)
	c.TotalOrders++
	date := orderDate
	c.LastOrderDate = &date
}

// CityName returns the city or an empty string
func (c *Customer) CityName() string {
	if c.City == nil {
		return ""
	}
	return *c.City
}
