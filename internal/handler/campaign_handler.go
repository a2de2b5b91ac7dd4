package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/service"
)

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Create handles POST /api/campaigns - creates a campaign and starts dispatch
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, CreateCampaignResponse{Message: "Campaign created successfully", Campaign: campaign})
}

// List handles GET /api/campaigns - lists campaigns newest first
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := repository.CampaignFilters{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "per_page", 20),
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status, ok := models.ParseCampaignStatus(statusStr)
		if !ok {
			WriteValidationError(w, "invalid status: must be one of draft, running, completed, failed")
			return
		}
		filters.Status = &status
	}

	campaigns, pagination, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListCampaignsResponse{
		Campaigns:  campaigns,
		Pagination: pagination,
	})
}

// GetByID handles GET /api/campaigns/{id}
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.campaignService.GetCampaign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// Logs handles GET /api/campaigns/{id}/logs?page=&limit=&status=
func (h *CampaignHandler) Logs(w http.ResponseWriter, r *http.Request) {
	logs, pagination, err := h.campaignService.ListLogs(
		r.Context(),
		mux.Vars(r)["id"],
		queryInt(r, "page", 1),
		queryInt(r, "limit", 50),
		r.URL.Query().Get("status"),
	)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListLogsResponse{Logs: logs, Pagination: pagination})
}

// Request/Response types

// CreateCampaignResponse represents the response for creating a campaign
type CreateCampaignResponse struct {
	Message  string                   `json:"message"`
	Campaign *service.CampaignCreated `json:"campaign"`
}

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.CampaignWithSegment `json:"campaigns"`
	Pagination *service.PaginationInfo       `json:"pagination"`
}

// ListLogsResponse represents the response for listing communication logs
type ListLogsResponse struct {
	Logs       []*models.CommunicationLog `json:"logs"`
	Pagination *service.PaginationInfo    `json:"pagination"`
}
