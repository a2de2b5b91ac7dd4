package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"minicrm/internal/models"
	"minicrm/internal/rules"
)

// ErrNotFound is returned when a record with the requested external id does not exist
var ErrNotFound = errors.New("record not found")

// Store groups the repositories and scopes them to a transaction when needed
type Store interface {
	Customers() CustomerRepository
	Orders() OrderRepository
	Segments() SegmentRepository
	Campaigns() CampaignRepository
	Logs() LogRepository

	// WithinTx runs fn against a store whose writes commit together.
	// Nested calls join the outer transaction.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// CustomerRepository defines customer data access operations
type CustomerRepository interface {
	// Create inserts the customer unless its customer_id already exists
	Create(ctx context.Context, customer *models.Customer) (bool, error)
	GetByCustomerID(ctx context.Context, customerID string) (*models.Customer, error)
	Exists(ctx context.Context, customerID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*models.Customer, error)
	FindMatching(ctx context.Context, predicate rules.Predicate) ([]*models.Customer, error)
	CountMatching(ctx context.Context, predicate rules.Predicate) (int, error)
	// ApplyOrder accumulates an order into the customer's aggregates.
	// It reports false when the customer does not exist.
	ApplyOrder(ctx context.Context, customerID string, amount decimal.Decimal, orderDate time.Time) (bool, error)
}

// OrderRepository defines order data access operations
type OrderRepository interface {
	// Create inserts the order unless its order_id already exists
	Create(ctx context.Context, order *models.Order) (bool, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.Order, error)
}

// SegmentRepository defines segment data access operations
type SegmentRepository interface {
	Create(ctx context.Context, segment *models.Segment) error
	GetBySegmentID(ctx context.Context, segmentID string) (*models.Segment, error)
	List(ctx context.Context) ([]*models.Segment, error)
}

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByCampaignID(ctx context.Context, campaignID string) (*models.Campaign, error)
	// GetWithSegment returns the campaign with its segment name, empty when the segment is gone
	GetWithSegment(ctx context.Context, campaignID string) (*models.CampaignWithSegment, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.CampaignWithSegment, int, error)
	// ApplyDeliveryCounts adds sent and failed to the counters, subtracts both
	// from pending and moves a RUNNING campaign to COMPLETED once pending
	// reaches zero, all in one atomic step.
	ApplyDeliveryCounts(ctx context.Context, campaignID string, sent, failed int) (*models.CampaignProgress, error)
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	Page     int
	PageSize int
	Status   *models.CampaignStatus
}

// LogRepository defines communication log data access operations
type LogRepository interface {
	CreateBatch(ctx context.Context, logs []*models.CommunicationLog) error
	GetByMessageID(ctx context.Context, messageID string) (*models.CommunicationLog, error)
	ListPending(ctx context.Context, campaignID string) ([]*models.CommunicationLog, error)
	List(ctx context.Context, filters LogFilters) ([]*models.CommunicationLog, int, error)
	// ApplyReceipts moves PENDING logs to the receipt status and returns the
	// logs that actually changed. Logs already SENT or FAILED are left alone.
	ApplyReceipts(ctx context.Context, receipts []models.DeliveryReceipt) ([]models.AppliedReceipt, error)
}

// LogFilters defines filters for listing communication logs
type LogFilters struct {
	CampaignID string
	Status     *models.LogStatus
	Page       int
	Limit      int
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Pagination normalizes page and size and returns the matching offset
func Pagination(page, size, defaultSize, maxSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size, (page - 1) * size
}
