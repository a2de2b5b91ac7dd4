package handler

import (
	"net/http"

	"minicrm/internal/models"
	"minicrm/internal/service"
)

// ReceiptHandler accepts delivery receipts from the vendor
type ReceiptHandler struct {
	receiptService *service.ReceiptService
}

// NewReceiptHandler creates a new receipt handler
func NewReceiptHandler(receiptService *service.ReceiptService) *ReceiptHandler {
	return &ReceiptHandler{
		receiptService: receiptService,
	}
}

// Submit handles POST /api/campaigns/delivery-receipt and /api/delivery-receipt.
// The receipt is queued and applied in a later batch.
func (h *ReceiptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var receipt models.DeliveryReceipt
	if !decodeJSON(w, r, &receipt) {
		return
	}

	if err := h.receiptService.SubmitReceipt(r.Context(), &receipt); err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteAccepted(w, ReceiptResponse{Message: "Delivery receipt received", MessageID: receipt.MessageID})
}

// ReceiptResponse acknowledges a queued receipt
type ReceiptResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}
