package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/rules"
)

const unknownSegmentName = "Unknown Segment"

// Dispatcher starts delivery of a campaign's pending logs without blocking
type Dispatcher interface {
	Dispatch(campaignID string)
}

// CampaignService handles campaign business logic
type CampaignService struct {
	store       repository.Store
	templateSvc *TemplateService
	dispatcher  Dispatcher
	logger      *zap.Logger
	now         func() time.Time
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	store repository.Store,
	templateSvc *TemplateService,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *CampaignService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignService{
		store:       store,
		templateSvc: templateSvc,
		dispatcher:  dispatcher,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateCampaign resolves the segment's audience, persists a RUNNING campaign
// with one PENDING log per recipient and starts dispatch in the background.
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*CampaignCreated, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	template := req.Template()
	if err := s.templateSvc.ValidateTemplate(template); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid template: %v", err)}
	}
	if unknown := s.templateSvc.UnknownPlaceholders(template); len(unknown) > 0 {
		s.logger.Warn("campaign template has placeholders that are sent as written",
			zap.String("campaign_name", req.Name),
			zap.Strings("placeholders", unknown),
		)
	}

	segment, err := s.store.Segments().GetBySegmentID(ctx, req.SegmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "segment", ID: req.SegmentID}
		}
		return nil, transient("load segment", err)
	}

	audience, err := s.store.Customers().FindMatching(ctx, rules.Compile(segment.Rules))
	if err != nil {
		return nil, transient("resolve audience", err)
	}
	if len(audience) == 0 {
		return nil, &ValidationError{Message: "No customers match the segment criteria"}
	}

	now := s.now().UTC()
	campaign := &models.Campaign{
		CampaignID:      uuid.NewString(),
		Name:            req.Name,
		SegmentID:       segment.SegmentID,
		MessageTemplate: template,
		Status:          models.CampaignStatusRunning,
		TotalAudience:   len(audience),
		PendingCount:    len(audience),
		StartedAt:       &now,
	}

	logs := make([]*models.CommunicationLog, 0, len(audience))
	for _, customer := range audience {
		logs = append(logs, &models.CommunicationLog{
			MessageID:     uuid.NewString(),
			CampaignID:    campaign.CampaignID,
			CustomerID:    customer.CustomerID,
			CustomerName:  customer.Name,
			CustomerEmail: customer.Email,
			Message:       s.templateSvc.Render(template, customer),
			Status:        models.LogStatusPending,
		})
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Campaigns().Create(ctx, campaign); err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}
		if err := tx.Logs().CreateBatch(ctx, logs); err != nil {
			return fmt.Errorf("failed to create communication logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, transient("create campaign", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", campaign.CampaignID),
		zap.String("segment_id", segment.SegmentID),
		zap.Int("audience_size", len(audience)),
	)

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(campaign.CampaignID)
	}

	return &CampaignCreated{
		CampaignID:    campaign.CampaignID,
		Name:          campaign.Name,
		SegmentID:     segment.SegmentID,
		SegmentName:   segment.Name,
		AudienceSize:  campaign.TotalAudience,
		Status:        campaign.Status,
		CustomMessage: template,
	}, nil
}

// GetCampaign retrieves a campaign with its segment name
func (s *CampaignService) GetCampaign(ctx context.Context, campaignID string) (*models.CampaignWithSegment, error) {
	campaign, err := s.store.Campaigns().GetWithSegment(ctx, campaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "campaign", ID: campaignID}
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign.SegmentName == "" {
		campaign.SegmentName = unknownSegmentName
	}
	return campaign, nil
}

// ListCampaigns lists campaigns with filters, newest first
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.CampaignWithSegment, *PaginationInfo, error) {
	campaigns, total, err := s.store.Campaigns().List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	for _, c := range campaigns {
		if c.SegmentName == "" {
			c.SegmentName = unknownSegmentName
		}
	}

	page, pageSize, _ := repository.Pagination(filters.Page, filters.PageSize, 20, 100)
	return campaigns, newPaginationInfo(page, pageSize, total), nil
}

// ListLogs lists a campaign's communication logs. A status of "" or "all"
// disables the status filter; other values are matched case-insensitively.
func (s *CampaignService) ListLogs(ctx context.Context, campaignID string, page, limit int, status string) ([]*models.CommunicationLog, *PaginationInfo, error) {
	filters := repository.LogFilters{CampaignID: campaignID, Page: page, Limit: limit}

	if status != "" && !strings.EqualFold(status, "all") {
		parsed, ok := models.ParseLogStatus(status)
		if !ok {
			return nil, nil, &ValidationError{Message: fmt.Sprintf("invalid status: %s", status)}
		}
		filters.Status = &parsed
	}

	if _, err := s.store.Campaigns().GetByCampaignID(ctx, campaignID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, &NotFoundError{Resource: "campaign", ID: campaignID}
		}
		return nil, nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	logs, total, err := s.store.Logs().List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list logs: %w", err)
	}

	page, limit, _ = repository.Pagination(page, limit, 50, 200)
	return logs, newPaginationInfo(page, limit, total), nil
}

func newPaginationInfo(page, pageSize, total int) *PaginationInfo {
	return &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign.
// custom_message is accepted as an alias of message_template.
type CreateCampaignRequest struct {
	Name            string `json:"name" validate:"required,max=255"`
	SegmentID       string `json:"segment_id" validate:"required"`
	MessageTemplate string `json:"message_template" validate:"required_without=CustomMessage"`
	CustomMessage   string `json:"custom_message,omitempty"`
}

// Template returns the message template, preferring message_template
func (r *CreateCampaignRequest) Template() string {
	if r.MessageTemplate != "" {
		return r.MessageTemplate
	}
	return r.CustomMessage
}

// CampaignCreated represents the result of creating a campaign
type CampaignCreated struct {
	CampaignID    string                `json:"campaign_id"`
	Name          string                `json:"name"`
	SegmentID     string                `json:"segment_id"`
	SegmentName   string                `json:"segment_name"`
	AudienceSize  int                   `json:"audience_size"`
	Status        models.CampaignStatus `json:"status"`
	CustomMessage string                `json:"custom_message"`
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
