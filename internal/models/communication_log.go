package models

import (
	"strings"
	"time"
)

// LogStatus represents valid delivery statuses
type LogStatus string

const (
	LogStatusPending LogStatus = "PENDING"
	LogStatusSent    LogStatus = "SENT"
	LogStatusFailed  LogStatus = "FAILED"
)

// ParseLogStatus parses a status case-insensitively
func ParseLogStatus(s string) (LogStatus, bool) {
	status := LogStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case LogStatusPending, LogStatusSent, LogStatusFailed:
		return status, true
	}
	return "", false
}

// CommunicationLog is one delivery attempt for a (campaign, recipient) pair.
// It is created PENDING and moves to SENT or FAILED exactly once.
type CommunicationLog struct {
	ID                int64      `json:"-" db:"id"`
	MessageID         string     `json:"message_id" db:"message_id"`
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	CustomerID        string     `json:"customer_id" db:"customer_id"`
	CustomerName      string     `json:"customer_name" db:"customer_name"`
	CustomerEmail     string     `json:"customer_email" db:"customer_email"`
	Message           string     `json:"message" db:"message"`
	Status            LogStatus  `json:"status" db:"status"`
	VendorMessageID   *string    `json:"vendor_message_id,omitempty" db:"vendor_message_id"`
	DeliveryTimestamp *time.Time `json:"delivery_timestamp,omitempty" db:"delivery_timestamp"`
	FailureReason     *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// DeliveryReceipt is an asynchronous report of a message's final delivery outcome
type DeliveryReceipt struct {
	MessageID         string    `json:"messageId" validate:"required,max=100"`
	CampaignID        string    `json:"campaignId" validate:"required,max=100"`
	VendorMessageID   *string   `json:"vendorMessageId,omitempty" validate:"omitempty,max=100"`
	Status            LogStatus `json:"status" validate:"required,oneof=SENT FAILED"`
	FailureReason     *string   `json:"failureReason,omitempty" validate:"omitempty,max=1000"`
	DeliveryTimestamp time.Time `json:"deliveryTimestamp"`
}

// AppliedReceipt identifies a log that a receipt actually moved out of PENDING
type AppliedReceipt struct {
	MessageID  string
	CampaignID string
	Status     LogStatus
}
