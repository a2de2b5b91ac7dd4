package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"minicrm/internal/models"
	"minicrm/internal/rules"
)

const customerColumns = `id, customer_id, name, email, phone, city, registration_date,
		total_spent, total_orders, last_order_date, created_at, updated_at`

type customerRepository struct {
	db DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create inserts a customer, skipping duplicates by customer_id
func (r *customerRepository) Create(ctx context.Context, customer *models.Customer) (bool, error) {
	query := `
		INSERT INTO customers (customer_id, name, email, phone, city, registration_date, total_spent, total_orders, last_order_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		customer.CustomerID,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.City,
		customer.RegistrationDate,
		customer.TotalSpent,
		customer.TotalOrders,
		customer.LastOrderDate,
	).Scan(&customer.ID, &customer.CreatedAt, &customer.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create customer: %w", err)
	}

	return true, nil
}

// GetByCustomerID retrieves a customer by external id
func (r *customerRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE customer_id = $1`

	customer, err := scanCustomer(r.db.QueryRowContext(ctx, query, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

// Exists checks whether a customer id is already stored
func (r *customerRepository) Exists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE customer_id = $1)`, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check customer: %w", err)
	}
	return exists, nil
}

// List retrieves customers with pagination
func (r *customerRepository) List(ctx context.Context, limit, offset int) ([]*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	return scanCustomers(rows)
}

// FindMatching retrieves every customer selected by the predicate
func (r *customerRepository) FindMatching(ctx context.Context, predicate rules.Predicate) ([]*models.Customer, error) {
	where, args := rules.Where(predicate, 0)
	query := `SELECT ` + customerColumns + ` FROM customers WHERE ` + where + ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching customers: %w", err)
	}
	defer rows.Close()

	return scanCustomers(rows)
}

// CountMatching counts the customers selected by the predicate
func (r *customerRepository) CountMatching(ctx context.Context, predicate rules.Predicate) (int, error) {
	where, args := rules.Where(predicate, 0)

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count matching customers: %w", err)
	}
	return count, nil
}

// ApplyOrder adds an order to the customer's running totals
func (r *customerRepository) ApplyOrder(ctx context.Context, customerID string, amount decimal.Decimal, orderDate time.Time) (bool, error) {
	query := `
		UPDATE customers
		SET total_spent = total_spent + $2,
		    total_orders = total_orders + 1,
		    last_order_date = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE customer_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, customerID, amount, orderDate)
	if err != nil {
		return false, fmt.Errorf("failed to update customer aggregates: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	customer := &models.Customer{}
	err := row.Scan(
		&customer.ID,
		&customer.CustomerID,
		&customer.Name,
		&customer.Email,
		&customer.Phone,
		&customer.City,
		&customer.RegistrationDate,
		&customer.TotalSpent,
		&customer.TotalOrders,
		&customer.LastOrderDate,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func scanCustomers(rows *sql.Rows) ([]*models.Customer, error) {
	customers := []*models.Customer{}
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, customer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}

	return customers, nil
}
