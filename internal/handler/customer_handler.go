package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"minicrm/internal/models"
	"minicrm/internal/service"
)

// CustomerHandler handles HTTP requests for customer and order ingestion
type CustomerHandler struct {
	ingestionService *service.IngestionService
}

// NewCustomerHandler creates a new customer handler
func NewCustomerHandler(ingestionService *service.IngestionService) *CustomerHandler {
	return &CustomerHandler{
		ingestionService: ingestionService,
	}
}

// Create handles POST /api/customers - queues a customer for ingestion
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.ingestionService.SubmitCustomer(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteAccepted(w, SubmitResponse{Message: "Customer queued for processing", Result: result})
}

// CreateOrder handles POST /api/orders - queues an order for ingestion
func (h *CustomerHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.ingestionService.SubmitOrder(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteAccepted(w, SubmitResponse{Message: "Order queued for processing", Result: result})
}

// List handles GET /api/customers
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	customers, err := h.ingestionService.ListCustomers(r.Context(), queryInt(r, "page", 1), queryInt(r, "per_page", 50))
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListCustomersResponse{Customers: customers})
}

// GetByID handles GET /api/customers/{id}
func (h *CustomerHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	customer, err := h.ingestionService.GetCustomer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, customer)
}

// ListOrders handles GET /api/customers/{id}/orders
func (h *CustomerHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["id"]
	if _, err := h.ingestionService.GetCustomer(r.Context(), customerID); err != nil {
		HandleServiceError(w, err)
		return
	}

	orders, err := h.ingestionService.ListCustomerOrders(r.Context(), customerID)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListOrdersResponse{Orders: orders})
}

// Request/Response types

// SubmitResponse is returned when a record has been queued
type SubmitResponse struct {
	Message string                `json:"message"`
	Result  *service.SubmitResult `json:"result"`
}

// ListCustomersResponse represents the response for listing customers
type ListCustomersResponse struct {
	Customers []*models.Customer `json:"customers"`
}

// ListOrdersResponse represents the response for listing a customer's orders
type ListOrdersResponse struct {
	Orders []*models.Order `json:"orders"`
}
