package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"minicrm/internal/models"
)

type segmentRepository struct {
	db DB
}

// NewSegmentRepository creates a new segment repository
func NewSegmentRepository(db DB) SegmentRepository {
	return &segmentRepository{db: db}
}

// Create stores a segment snapshot
func (r *segmentRepository) Create(ctx context.Context, segment *models.Segment) error {
	ruleSet, err := json.Marshal(segment.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode segment rules: %w", err)
	}

	query := `
		INSERT INTO segments (segment_id, name, description, rules, audience_size, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		segment.SegmentID,
		segment.Name,
		segment.Description,
		ruleSet,
		segment.AudienceSize,
		segment.CreatedBy,
	).Scan(&segment.ID, &segment.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}

	return nil
}

// GetBySegmentID retrieves a segment by external id
func (r *segmentRepository) GetBySegmentID(ctx context.Context, segmentID string) (*models.Segment, error) {
	query := `
		SELECT id, segment_id, name, description, rules, audience_size, created_by, created_at
		FROM segments
		WHERE segment_id = $1
	`

	segment, err := scanSegment(r.db.QueryRowContext(ctx, query, segmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	return segment, nil
}

// List retrieves all segments, newest first
func (r *segmentRepository) List(ctx context.Context) ([]*models.Segment, error) {
	query := `
		SELECT id, segment_id, name, description, rules, audience_size, created_by, created_at
		FROM segments
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	segments := []*models.Segment{}
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, segment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}

func scanSegment(row rowScanner) (*models.Segment, error) {
	segment := &models.Segment{}
	var ruleSet []byte
	err := row.Scan(
		&segment.ID,
		&segment.SegmentID,
		&segment.Name,
		&segment.Description,
		&ruleSet,
		&segment.AudienceSize,
		&segment.CreatedBy,
		&segment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(ruleSet, &segment.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode segment rules: %w", err)
	}
	return segment, nil
}
