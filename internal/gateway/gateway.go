// Package gateway talks to the third-party delivery provider and provides a
// local simulator of it.
package gateway

import "minicrm/internal/dispatch"

// SendRequest is the payload the vendor accepts for one message
type SendRequest struct {
	MessageID     string `json:"messageId" validate:"required"`
	CampaignID    string `json:"campaignId" validate:"required"`
	CustomerID    string `json:"customerId"`
	CustomerEmail string `json:"customerEmail"`
	Message       string `json:"message"`
}

// NewSendRequest builds the vendor payload for a dispatch job
func NewSendRequest(job dispatch.Job) SendRequest {
	return SendRequest{
		MessageID:     job.MessageID,
		CampaignID:    job.CampaignID,
		CustomerID:    job.CustomerID,
		CustomerEmail: job.CustomerEmail,
		Message:       job.Message,
	}
}
