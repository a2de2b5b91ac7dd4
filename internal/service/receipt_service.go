package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"minicrm/internal/models"
)

// ReceiptQueue accepts receipts for batched application
type ReceiptQueue interface {
	Submit(receipt models.DeliveryReceipt) error
}

// ReceiptService validates vendor delivery receipts and hands them to the aggregator
type ReceiptService struct {
	queue  ReceiptQueue
	logger *zap.Logger
}

// NewReceiptService creates a new receipt service
func NewReceiptService(queue ReceiptQueue, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptService{queue: queue, logger: logger}
}

// SubmitReceipt queues a receipt. It never waits for the receipt to be applied.
func (s *ReceiptService) SubmitReceipt(_ context.Context, receipt *models.DeliveryReceipt) error {
	receipt.Status = models.LogStatus(strings.ToUpper(strings.TrimSpace(string(receipt.Status))))
	if err := validateStruct(receipt); err != nil {
		return err
	}
	if field, ok := receiptNULField(receipt); ok {
		return &ValidationError{Message: field + " must not contain NUL bytes"}
	}

	if err := s.queue.Submit(*receipt); err != nil {
		s.logger.Warn("delivery receipt rejected",
			zap.String("message_id", receipt.MessageID),
			zap.Error(err),
		)
		return transient("queue delivery receipt", err)
	}
	return nil
}

// receiptNULField reports the first text field Postgres would refuse to store
func receiptNULField(r *models.DeliveryReceipt) (string, bool) {
	fields := []struct {
		name  string
		value *string
	}{
		{"messageId", &r.MessageID},
		{"campaignId", &r.CampaignID},
		{"vendorMessageId", r.VendorMessageID},
		{"failureReason", r.FailureReason},
	}
	for _, f := range fields {
		if f.value != nil && strings.ContainsRune(*f.value, 0) {
			return f.name, true
		}
	}
	return "", false
}
