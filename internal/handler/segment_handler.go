package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"minicrm/internal/models"
	"minicrm/internal/service"
)

// SegmentHandler handles HTTP requests for audience segments
type SegmentHandler struct {
	segmentService *service.SegmentService
}

// NewSegmentHandler creates a new segment handler
func NewSegmentHandler(segmentService *service.SegmentService) *SegmentHandler {
	return &SegmentHandler{
		segmentService: segmentService,
	}
}

// Create handles POST /api/segments - saves a segment snapshot
func (h *SegmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSegmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	segment, err := h.segmentService.CreateSegment(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, CreateSegmentResponse{Message: "Segment created successfully", Segment: segment})
}

// Preview handles POST /api/segments/preview - sizes and summarizes an audience
func (h *SegmentHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req service.PreviewSegmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	preview, err := h.segmentService.PreviewSegment(r.Context(), req.Rules)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, preview)
}

// List handles GET /api/segments
func (h *SegmentHandler) List(w http.ResponseWriter, r *http.Request) {
	segments, err := h.segmentService.ListSegments(r.Context())
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListSegmentsResponse{Segments: segments})
}

// GetByID handles GET /api/segments/{id}
func (h *SegmentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	segment, err := h.segmentService.GetSegment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, segment)
}

// Request/Response types

// CreateSegmentResponse represents the response for saving a segment
type CreateSegmentResponse struct {
	Message string          `json:"message"`
	Segment *models.Segment `json:"segment"`
}

// ListSegmentsResponse represents the response for listing segments
type ListSegmentsResponse struct {
	Segments []*models.Segment `json:"segments"`
}
