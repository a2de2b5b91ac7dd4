package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"minicrm/internal/models"
)

const logColumns = `id, message_id, campaign_id, customer_id, customer_name, customer_email, message,
		status, vendor_message_id, delivery_timestamp, failure_reason, created_at, updated_at`

type logRepository struct {
	db DB
}

// NewLogRepository creates a new communication log repository
func NewLogRepository(db DB) LogRepository {
	return &logRepository{db: db}
}

// CreateBatch inserts PENDING logs in a single round trip
func (r *logRepository) CreateBatch(ctx context.Context, logs []*models.CommunicationLog) error {
	if len(logs) == 0 {
		return nil
	}

	n := len(logs)
	messageIDs := make([]string, n)
	campaignIDs := make([]string, n)
	customerIDs := make([]string, n)
	names := make([]string, n)
	emails := make([]string, n)
	messages := make([]string, n)
	statuses := make([]string, n)
	byMessageID := make(map[string]*models.CommunicationLog, n)

	for i, log := range logs {
		if log.Status == "" {
			log.Status = models.LogStatusPending
		}
		messageIDs[i] = log.MessageID
		campaignIDs[i] = log.CampaignID
		customerIDs[i] = log.CustomerID
		names[i] = log.CustomerName
		emails[i] = log.CustomerEmail
		messages[i] = log.Message
		statuses[i] = string(log.Status)
		byMessageID[log.MessageID] = log
	}

	query := `
		INSERT INTO communication_logs (message_id, campaign_id, customer_id, customer_name, customer_email, message, status)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[])
		RETURNING id, message_id, created_at, updated_at
	`

	rows, err := r.db.QueryContext(
		ctx,
		query,
		pq.StringArray(messageIDs),
		pq.StringArray(campaignIDs),
		pq.StringArray(customerIDs),
		pq.StringArray(names),
		pq.StringArray(emails),
		pq.StringArray(messages),
		pq.StringArray(statuses),
	)
	if err != nil {
		return fmt.Errorf("failed to create communication logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                   int64
			messageID            string
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &messageID, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan communication log: %w", err)
		}
		if log, ok := byMessageID[messageID]; ok {
			log.ID = id
			log.CreatedAt = createdAt
			log.UpdatedAt = updatedAt
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating communication logs: %w", err)
	}

	return nil
}

// GetByMessageID retrieves a log by message id
func (r *logRepository) GetByMessageID(ctx context.Context, messageID string) (*models.CommunicationLog, error) {
	query := `SELECT ` + logColumns + ` FROM communication_logs WHERE message_id = $1`

	log, err := scanLog(r.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get communication log: %w", err)
	}

	return log, nil
}

// ListPending retrieves a campaign's undelivered logs in creation order
func (r *logRepository) ListPending(ctx context.Context, campaignID string) ([]*models.CommunicationLog, error) {
	query := `
		SELECT ` + logColumns + `
		FROM communication_logs
		WHERE campaign_id = $1 AND status = 'PENDING'
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending logs: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// List retrieves a campaign's logs, newest first
func (r *logRepository) List(ctx context.Context, filters LogFilters) ([]*models.CommunicationLog, int, error) {
	where := " WHERE campaign_id = $1"
	args := []interface{}{filters.CampaignID}
	if filters.Status != nil {
		where += " AND status = $2"
		args = append(args, *filters.Status)
	}

	var totalCount int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM communication_logs"+where, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	_, limit, offset := Pagination(filters.Page, filters.Limit, 50, 200)
	query := `SELECT ` + logColumns + ` FROM communication_logs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list communication logs: %w", err)
	}
	defer rows.Close()

	logs, err := scanLogs(rows)
	if err != nil {
		return nil, 0, err
	}
	return logs, totalCount, nil
}

// ApplyReceipts bulk updates PENDING logs from a receipt batch in one statement.
// The returned campaign id is the one stored on the log, not the receipt's.
func (r *logRepository) ApplyReceipts(ctx context.Context, receipts []models.DeliveryReceipt) ([]models.AppliedReceipt, error) {
	if len(receipts) == 0 {
		return nil, nil
	}

	n := len(receipts)
	messageIDs := make([]string, n)
	statuses := make([]string, n)
	vendorIDs := make([]string, n)
	reasons := make([]string, n)
	timestamps := make([]string, n)

	for i, receipt := range receipts {
		messageIDs[i] = receipt.MessageID
		statuses[i] = string(receipt.Status)
		if receipt.VendorMessageID != nil {
			vendorIDs[i] = *receipt.VendorMessageID
		}
		if receipt.FailureReason != nil {
			reasons[i] = *receipt.FailureReason
		}
		if !receipt.DeliveryTimestamp.IsZero() {
			timestamps[i] = receipt.DeliveryTimestamp.UTC().Format(time.RFC3339Nano)
		}
	}

	query := `
		UPDATE communication_logs l
		SET status = r.status,
		    vendor_message_id = NULLIF(r.vendor_message_id, ''),
		    delivery_timestamp = COALESCE(NULLIF(r.delivery_timestamp, '')::timestamptz, CURRENT_TIMESTAMP),
		    failure_reason = NULLIF(r.failure_reason, ''),
		    updated_at = CURRENT_TIMESTAMP
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[])
		    AS r(message_id, status, vendor_message_id, failure_reason, delivery_timestamp)
		WHERE l.message_id = r.message_id AND l.status = 'PENDING'
		RETURNING l.message_id, l.campaign_id, l.status
	`

	rows, err := r.db.QueryContext(
		ctx,
		query,
		pq.StringArray(messageIDs),
		pq.StringArray(statuses),
		pq.StringArray(vendorIDs),
		pq.StringArray(reasons),
		pq.StringArray(timestamps),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply delivery receipts: %w", err)
	}
	defer rows.Close()

	applied := []models.AppliedReceipt{}
	for rows.Next() {
		var a models.AppliedReceipt
		if err := rows.Scan(&a.MessageID, &a.CampaignID, &a.Status); err != nil {
			return nil, fmt.Errorf("failed to scan applied receipt: %w", err)
		}
		applied = append(applied, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applied receipts: %w", err)
	}

	return applied, nil
}

func scanLog(row rowScanner) (*models.CommunicationLog, error) {
	log := &models.CommunicationLog{}
	err := row.Scan(
		&log.ID,
		&log.MessageID,
		&log.CampaignID,
		&log.CustomerID,
		&log.CustomerName,
		&log.CustomerEmail,
		&log.Message,
		&log.Status,
		&log.VendorMessageID,
		&log.DeliveryTimestamp,
		&log.FailureReason,
		&log.CreatedAt,
		&log.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func scanLogs(rows *sql.Rows) ([]*models.CommunicationLog, error) {
	logs := []*models.CommunicationLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan communication log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating communication logs: %w", err)
	}

	return logs, nil
}
