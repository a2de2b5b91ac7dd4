package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"minicrm/internal/models"
)

type orderRepository struct {
	db DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create inserts an order; a redelivered order_id is reported as not inserted
func (r *orderRepository) Create(ctx context.Context, order *models.Order) (bool, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return false, fmt.Errorf("failed to encode order items: %w", err)
	}

	query := `
		INSERT INTO orders (order_id, customer_id, amount, items, order_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		order.OrderID,
		order.CustomerID,
		order.Amount,
		items,
		order.OrderDate,
		order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create order: %w", err)
	}

	return true, nil
}

// GetByOrderID retrieves an order by external id
func (r *orderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	query := `
		SELECT id, order_id, customer_id, amount, items, order_date, status, created_at, updated_at
		FROM orders
		WHERE order_id = $1
	`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

// ListByCustomer retrieves a customer's orders, newest first
func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string) ([]*models.Order, error) {
	query := `
		SELECT id, order_id, customer_id, amount, items, order_date, status, created_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY order_date DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var items []byte
	err := row.Scan(
		&order.ID,
		&order.OrderID,
		&order.CustomerID,
		&order.Amount,
		&items,
		&order.OrderDate,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return nil, fmt.Errorf("failed to decode order items: %w", err)
		}
	}
	return order, nil
}
