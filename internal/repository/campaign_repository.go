package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"minicrm/internal/models"
)

const campaignColumns = `c.id, c.campaign_id, c.name, c.segment_id, c.message_template, c.status,
		c.total_audience, c.sent_count, c.failed_count, c.pending_count,
		c.started_at, c.completed_at, c.created_at, c.updated_at`

type campaignRepository struct {
	db DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := `
		INSERT INTO campaigns (campaign_id, name, segment_id, message_template, status,
			total_audience, sent_count, failed_count, pending_count, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		campaign.CampaignID,
		campaign.Name,
		campaign.SegmentID,
		campaign.MessageTemplate,
		campaign.Status,
		campaign.TotalAudience,
		campaign.SentCount,
		campaign.FailedCount,
		campaign.PendingCount,
		campaign.StartedAt,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByCampaignID retrieves a campaign by external id
func (r *campaignRepository) GetByCampaignID(ctx context.Context, campaignID string) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns c WHERE c.campaign_id = $1`

	campaign := &models.Campaign{}
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(campaignFields(campaign)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithSegment retrieves a campaign together with its segment name
func (r *campaignRepository) GetWithSegment(ctx context.Context, campaignID string) (*models.CampaignWithSegment, error) {
	query := `
		SELECT ` + campaignColumns + `, COALESCE(s.name, '')
		FROM campaigns c
		LEFT JOIN segments s ON s.segment_id = c.segment_id
		WHERE c.campaign_id = $1
	`

	campaign := &models.CampaignWithSegment{}
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(
		append(campaignFields(&campaign.Campaign), &campaign.SegmentName)...,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// List retrieves campaigns with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.CampaignWithSegment, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE 1=1")

	args := []interface{}{}
	argPos := 1

	if filters.Status != nil {
		where.WriteString(fmt.Sprintf(" AND c.status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	var totalCount int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns c"+where.String(), args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	_, limit, offset := Pagination(filters.Page, filters.PageSize, 20, 100)

	query := `
		SELECT ` + campaignColumns + `, COALESCE(s.name, '')
		FROM campaigns c
		LEFT JOIN segments s ON s.segment_id = c.segment_id` +
		where.String() +
		fmt.Sprintf(" ORDER BY c.created_at DESC, c.id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.CampaignWithSegment{}
	for rows.Next() {
		campaign := &models.CampaignWithSegment{}
		if err := rows.Scan(append(campaignFields(&campaign.Campaign), &campaign.SegmentName)...); err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating campaigns: %w", err)
	}

	return campaigns, totalCount, nil
}

// ApplyDeliveryCounts updates the delivery counters and completes the campaign
// in a single statement. The row lock taken by the CTE serializes concurrent
// updates, so only one caller ever observes the RUNNING to COMPLETED step.
func (r *campaignRepository) ApplyDeliveryCounts(ctx context.Context, campaignID string, sent, failed int) (*models.CampaignProgress, error) {
	query := `
		WITH prev AS (
			SELECT campaign_id, status FROM campaigns WHERE campaign_id = $1 FOR UPDATE
		)
		UPDATE campaigns c
		SET sent_count = c.sent_count + $2::int,
		    failed_count = c.failed_count + $3::int,
		    pending_count = c.pending_count - ($2::int + $3::int),
		    status = CASE
		        WHEN c.status = 'RUNNING' AND c.pending_count - ($2::int + $3::int) <= 0 THEN 'COMPLETED'
		        ELSE c.status END,
		    completed_at = CASE
		        WHEN c.status = 'RUNNING' AND c.pending_count - ($2::int + $3::int) <= 0 THEN CURRENT_TIMESTAMP
		        ELSE c.completed_at END,
		    updated_at = CURRENT_TIMESTAMP
		FROM prev
		WHERE c.campaign_id = prev.campaign_id
		RETURNING c.campaign_id, c.sent_count, c.failed_count, c.pending_count, c.status, prev.status
	`

	progress := &models.CampaignProgress{}
	var previous models.CampaignStatus
	err := r.db.QueryRowContext(ctx, query, campaignID, sent, failed).Scan(
		&progress.CampaignID,
		&progress.SentCount,
		&progress.FailedCount,
		&progress.PendingCount,
		&progress.Status,
		&previous,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply delivery counts: %w", err)
	}

	progress.Completed = previous != models.CampaignStatusCompleted && progress.Status == models.CampaignStatusCompleted
	return progress, nil
}

func campaignFields(c *models.Campaign) []interface{} {
	return []interface{}{
		&c.ID,
		&c.CampaignID,
		&c.Name,
		&c.SegmentID,
		&c.MessageTemplate,
		&c.Status,
		&c.TotalAudience,
		&c.SentCount,
		&c.FailedCount,
		&c.PendingCount,
		&c.StartedAt,
		&c.CompletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
}
