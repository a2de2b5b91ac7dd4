package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/stream"
)

// StreamPublisher appends ingestion requests to durable streams
type StreamPublisher interface {
	PublishCustomer(ctx context.Context, customer *models.Customer) (string, error)
	PublishOrder(ctx context.Context, order *models.Order) (string, error)
}

// IngestionService accepts customer and order submissions and materializes
// them when their stream messages are consumed
type IngestionService struct {
	store     repository.Store
	publisher StreamPublisher
	logger    *zap.Logger
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(store repository.Store, publisher StreamPublisher, logger *zap.Logger) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{store: store, publisher: publisher, logger: logger}
}

// SubmitCustomer validates a customer and queues it for creation
func (s *IngestionService) SubmitCustomer(ctx context.Context, req *CreateCustomerRequest) (*SubmitResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	exists, err := s.store.Customers().Exists(ctx, req.CustomerID)
	if err != nil {
		return nil, transient("check customer", err)
	}
	if exists {
		return nil, &ConflictError{Resource: "customer", Message: fmt.Sprintf("customer %s already exists", req.CustomerID)}
	}

	customer := req.toCustomer()
	id, err := s.publisher.PublishCustomer(ctx, customer)
	if err != nil {
		return nil, transient("queue customer", err)
	}

	return &SubmitResult{MessageID: id, ID: customer.CustomerID, Status: "queued"}, nil
}

// SubmitOrder validates an order and queues it for creation
func (s *IngestionService) SubmitOrder(ctx context.Context, req *CreateOrderRequest) (*SubmitResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, &ValidationError{Message: "amount must not be negative"}
	}
	for i, item := range req.Items {
		if item.Price.IsNegative() {
			return nil, &ValidationError{Message: fmt.Sprintf("items[%d].price must not be negative", i)}
		}
	}

	order := req.toOrder()
	id, err := s.publisher.PublishOrder(ctx, order)
	if err != nil {
		return nil, transient("queue order", err)
	}

	return &SubmitResult{MessageID: id, ID: order.OrderID, Status: "queued"}, nil
}

// HandleCustomerMessage persists a queued customer. Redelivery of a customer
// that already exists is acknowledged without writing.
func (s *IngestionService) HandleCustomerMessage(ctx context.Context, msg stream.Message) error {
	if msg.Type != stream.TypeCreateCustomer {
		return &ProcessingError{MessageType: msg.Type, Reason: "unexpected message type on customer stream"}
	}

	var customer models.Customer
	if err := msg.Decode(&customer); err != nil {
		return &ProcessingError{MessageType: msg.Type, Reason: err.Error()}
	}
	if customer.CustomerID == "" {
		return &ProcessingError{MessageType: msg.Type, Reason: "customer_id is missing"}
	}

	exists, err := s.store.Customers().Exists(ctx, customer.CustomerID)
	if err != nil {
		return transient("check customer", err)
	}
	if exists {
		s.logger.Info("customer already exists, skipping", zap.String("customer_id", customer.CustomerID), zap.String("entry_id", msg.ID))
		return nil
	}

	inserted, err := s.store.Customers().Create(ctx, &customer)
	if err != nil {
		return transient("create customer", err)
	}
	if inserted {
		s.logger.Info("customer created", zap.String("customer_id", customer.CustomerID))
	}
	return nil
}

// HandleOrderMessage persists a queued order and folds it into the customer's
// aggregates in one transaction. A missing customer only skips the aggregate
// update; a redelivered order changes nothing.
func (s *IngestionService) HandleOrderMessage(ctx context.Context, msg stream.Message) error {
	if msg.Type != stream.TypeCreateOrder {
		return &ProcessingError{MessageType: msg.Type, Reason: "unexpected message type on order stream"}
	}

	var order models.Order
	if err := msg.Decode(&order); err != nil {
		return &ProcessingError{MessageType: msg.Type, Reason: err.Error()}
	}
	if order.OrderID == "" || order.CustomerID == "" {
		return &ProcessingError{MessageType: msg.Type, Reason: "order_id and customer_id are required"}
	}
	if order.Status == "" {
		order.Status = models.DefaultOrderStatus
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = msg.Timestamp
	}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		inserted, err := tx.Orders().Create(ctx, &order)
		if err != nil {
			return err
		}
		if !inserted {
			s.logger.Info("order already stored, skipping", zap.String("order_id", order.OrderID), zap.String("entry_id", msg.ID))
			return nil
		}

		found, err := tx.Customers().ApplyOrder(ctx, order.CustomerID, order.Amount, order.OrderDate)
		if err != nil {
			return err
		}
		if !found {
			s.logger.Warn("order references unknown customer, aggregates not updated",
				zap.String("order_id", order.OrderID),
				zap.String("customer_id", order.CustomerID),
			)
		}
		return nil
	})
	if err != nil {
		return transient("store order", err)
	}
	return nil
}

// GetCustomer retrieves a materialized customer
func (s *IngestionService) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	customer, err := s.store.Customers().GetByCustomerID(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "customer", ID: customerID}
	}
	if err != nil {
		return nil, transient("get customer", err)
	}
	return customer, nil
}

// ListCustomers lists materialized customers
func (s *IngestionService) ListCustomers(ctx context.Context, page, pageSize int) ([]*models.Customer, error) {
	_, limit, offset := repository.Pagination(page, pageSize, 50, 200)
	customers, err := s.store.Customers().List(ctx, limit, offset)
	if err != nil {
		return nil, transient("list customers", err)
	}
	return customers, nil
}

// ListCustomerOrders lists a customer's stored orders
func (s *IngestionService) ListCustomerOrders(ctx context.Context, customerID string) ([]*models.Order, error) {
	orders, err := s.store.Orders().ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, transient("list orders", err)
	}
	return orders, nil
}

// Request/Response types

// CreateCustomerRequest represents a request to create a customer
type CreateCustomerRequest struct {
	CustomerID       string     `json:"customer_id" validate:"required,max=100"`
	Name             string     `json:"name" validate:"required,max=255"`
	Email            string     `json:"email" validate:"required,email"`
	Phone            string     `json:"phone" validate:"required,max=50"`
	City             *string    `json:"city,omitempty" validate:"omitempty,max=100"`
	RegistrationDate *time.Time `json:"registration_date" validate:"required"`
}

func (r *CreateCustomerRequest) toCustomer() *models.Customer {
	customer := &models.Customer{
		CustomerID:       strings.TrimSpace(r.CustomerID),
		Name:             r.Name,
		Email:            r.Email,
		Phone:            r.Phone,
		RegistrationDate: r.RegistrationDate.UTC(),
		TotalSpent:       decimal.Zero,
	}
	if r.City != nil && strings.TrimSpace(*r.City) != "" {
		city := strings.TrimSpace(*r.City)
		customer.City = &city
	}
	return customer
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	OrderID    string             `json:"order_id" validate:"required,max=100"`
	CustomerID string             `json:"customer_id" validate:"required,max=100"`
	Amount     decimal.Decimal    `json:"amount"`
	Items      []models.OrderItem `json:"items" validate:"dive"`
	OrderDate  *time.Time         `json:"order_date" validate:"required"`
	Status     string             `json:"status,omitempty" validate:"omitempty,max=30"`
}

func (r *CreateOrderRequest) toOrder() *models.Order {
	status := r.Status
	if status == "" {
		status = models.DefaultOrderStatus
	}
	items := r.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	return &models.Order{
		OrderID:    strings.TrimSpace(r.OrderID),
		CustomerID: strings.TrimSpace(r.CustomerID),
		Amount:     r.Amount,
		Items:      items,
		OrderDate:  r.OrderDate.UTC(),
		Status:     status,
	}
}

// SubmitResult is returned when a record has been queued
type SubmitResult struct {
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
	Status    string `json:"status"`
}
