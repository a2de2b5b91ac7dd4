package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/rules"
)

// Demographic bucket labels
const (
	TierLow    = "Low (0-5K)"
	TierMedium = "Medium (5K-20K)"
	TierHigh   = "High (20K+)"

	RecencyActive   = "Active (0-30 days)"
	RecencyInactive = "Inactive (30-90 days)"
	RecencyDormant  = "Dormant (90+ days)"
)

// SegmentService handles segment definition and audience preview
type SegmentService struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewSegmentService creates a new segment service
func NewSegmentService(store repository.Store, logger *zap.Logger) *SegmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SegmentService{store: store, logger: logger, now: time.Now}
}

// CreateSegment validates the rules, counts the current audience and stores
// an immutable snapshot
func (s *SegmentService) CreateSegment(ctx context.Context, req *CreateSegmentRequest) (*models.Segment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := rules.Validate(req.Rules); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	s.warnUnknownOperators(req.Rules)

	ruleSet := make([]models.Rule, len(req.Rules))
	copy(ruleSet, req.Rules)
	for i := range ruleSet {
		if ruleSet[i].ID == "" {
			ruleSet[i].ID = uuid.NewString()
		}
	}

	count, err := s.store.Customers().CountMatching(ctx, rules.CompileAt(ruleSet, s.now()))
	if err != nil {
		return nil, transient("count segment audience", err)
	}

	segment := &models.Segment{
		SegmentID:    uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		Rules:        ruleSet,
		AudienceSize: count,
		CreatedBy:    req.CreatedBy,
	}
	if err := s.store.Segments().Create(ctx, segment); err != nil {
		return nil, transient("create segment", err)
	}

	s.logger.Info("segment created",
		zap.String("segment_id", segment.SegmentID),
		zap.Int("rules", len(ruleSet)),
		zap.Int("audience_size", count),
	)
	return segment, nil
}

// PreviewSegment resolves the audience for unsaved rules and summarizes it
func (s *SegmentService) PreviewSegment(ctx context.Context, ruleSet []models.Rule) (*SegmentPreview, error) {
	if err := rules.Validate(ruleSet); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	s.warnUnknownOperators(ruleSet)

	now := s.now()
	customers, err := s.store.Customers().FindMatching(ctx, rules.CompileAt(ruleSet, now))
	if err != nil {
		return nil, transient("find segment audience", err)
	}

	return &SegmentPreview{
		Count:        len(customers),
		Demographics: summarize(customers, now),
	}, nil
}

// GetSegment retrieves a segment by external id
func (s *SegmentService) GetSegment(ctx context.Context, segmentID string) (*models.Segment, error) {
	segment, err := s.store.Segments().GetBySegmentID(ctx, segmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "segment", ID: segmentID}
	}
	if err != nil {
		return nil, transient("get segment", err)
	}
	return segment, nil
}

// ListSegments lists saved segments
func (s *SegmentService) ListSegments(ctx context.Context) ([]*models.Segment, error) {
	segments, err := s.store.Segments().List(ctx)
	if err != nil {
		return nil, transient("list segments", err)
	}
	return segments, nil
}

func (s *SegmentService) warnUnknownOperators(ruleSet []models.Rule) {
	if unknown := rules.UnknownOperators(ruleSet); len(unknown) > 0 {
		ops := make([]string, len(unknown))
		for i, op := range unknown {
			ops[i] = string(op)
		}
		s.logger.Warn("unsupported rule operators match every customer", zap.Strings("operators", ops))
	}
}

const (
	lowTierLimit    = 5000.0
	mediumTierLimit = 20000.0
)

func summarize(customers []*models.Customer, now time.Time) Demographics {
	d := Demographics{
		ByCity:         map[string]int{},
		BySpendingTier: map[string]int{TierLow: 0, TierMedium: 0, TierHigh: 0},
		ByRecency:      map[string]int{RecencyActive: 0, RecencyInactive: 0, RecencyDormant: 0},
	}

	for _, c := range customers {
		if city := c.CityName(); city != "" {
			d.ByCity[city]++
		}

		spent := c.TotalSpent.InexactFloat64()
		switch {
		case spent <= lowTierLimit:
			d.BySpendingTier[TierLow]++
		case spent <= mediumTierLimit:
			d.BySpendingTier[TierMedium]++
		default:
			d.BySpendingTier[TierHigh]++
		}

		if c.LastOrderDate == nil {
			continue
		}
		days := int(now.Sub(*c.LastOrderDate) / (24 * time.Hour))
		switch {
		case days <= 30:
			d.ByRecency[RecencyActive]++
		case days <= 90:
			d.ByRecency[RecencyInactive]++
		default:
			d.ByRecency[RecencyDormant]++
		}
	}
	return d
}

// Request/Response types

// CreateSegmentRequest represents a request to save a segment
type CreateSegmentRequest struct {
	Name        string        `json:"name" validate:"required,max=255"`
	Description *string       `json:"description,omitempty"`
	Rules       []models.Rule `json:"rules"`
	CreatedBy   *string       `json:"created_by,omitempty"`
}

// PreviewSegmentRequest represents a request to preview an audience
type PreviewSegmentRequest struct {
	Rules []models.Rule `json:"rules"`
}

// SegmentPreview is the audience size and breakdown for a rule set
type SegmentPreview struct {
	Count        int          `json:"count"`
	Demographics Demographics `json:"demographics"`
}

// Demographics breaks an audience down by city, spend and order recency
type Demographics struct {
	ByCity         map[string]int `json:"by_city"`
	BySpendingTier map[string]int `json:"by_spending_tier"`
	ByRecency      map[string]int `json:"by_recency"`
}
