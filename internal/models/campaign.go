package models

import (
	"strings"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusRunning   CampaignStatus = "RUNNING"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusFailed    CampaignStatus = "FAILED"
)

// ParseCampaignStatus parses a status case-insensitively
func ParseCampaignStatus(s string) (CampaignStatus, bool) {
	status := CampaignStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case CampaignStatusDraft, CampaignStatusRunning, CampaignStatusCompleted, CampaignStatusFailed:
		return status, true
	}
	return "", false
}

// Campaign represents one execution of a templated message against a segment's audience.
// Outside of a batch update SentCount+FailedCount+PendingCount == TotalAudience.
type Campaign struct {
	ID              int64          `json:"-" db:"id"`
	CampaignID      string         `json:"campaign_id" db:"campaign_id"`
	Name            string         `json:"name" db:"name"`
	SegmentID       string         `json:"segment_id" db:"segment_id"`
	MessageTemplate string         `json:"message_template" db:"message_template"`
	Status          CampaignStatus `json:"status" db:"status"`
	TotalAudience   int            `json:"total_audience" db:"total_audience"`
	SentCount       int            `json:"sent_count" db:"sent_count"`
	FailedCount     int            `json:"failed_count" db:"failed_count"`
	PendingCount    int            `json:"pending_count" db:"pending_count"`
	StartedAt       *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// CampaignWithSegment is a campaign annotated with its segment's display name
type CampaignWithSegment struct {
	Campaign
	SegmentName string `json:"segment_name"`
}

// IsBalanced checks the counter invariant
func (c *Campaign) IsBalanced() bool {
	return c.SentCount+c.FailedCount+c.PendingCount == c.TotalAudience
}

// IsTerminal reports whether the campaign will not change status again
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusFailed
}

// CampaignProgress is the post-update state returned by an atomic counter update
type CampaignProgress struct {
	CampaignID   string         `json:"campaign_id"`
	SentCount    int            `json:"sent_count"`
	FailedCount  int            `json:"failed_count"`
	PendingCount int            `json:"pending_count"`
	Status       CampaignStatus `json:"status"`
	// Completed is true only for the update that moved the campaign to COMPLETED
	Completed bool `json:"completed"`
}
