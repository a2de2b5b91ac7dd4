package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/repository/memstore"
)

func seedHighSpenders(t *testing.T, store repository.Store) *models.Segment {
	t.Helper()
	seedCustomer(t, store, "c-1", "Asha", 6000, "Nairobi")
	seedCustomer(t, store, "c-2", "Brian", 3000, "Mombasa")

	segment := &models.Segment{
		SegmentID: "seg-1",
		Name:      "High spenders",
		Rules:     []models.Rule{{ID: "r-1", Field: models.FieldTotalSpent, Operator: models.OpGreater, Value: 5000.0}},
	}
	require.NoError(t, store.Segments().Create(context.Background(), segment))
	return segment
}

func newCampaignService(store repository.Store) (*CampaignService, *fakeDispatcher) {
	dispatcher := &fakeDispatcher{}
	return NewCampaignService(store, NewTemplateService(), dispatcher, nil), dispatcher
}

func TestCreateCampaign_ResolvesAudienceAndDispatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedHighSpenders(t, store)
	svc, dispatcher := newCampaignService(store)

	created, err := svc.CreateCampaign(ctx, &CreateCampaignRequest{
		Name:            "Summer",
		SegmentID:       "seg-1",
		MessageTemplate: "Hi {{name}}, use {{code}}",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, created.AudienceSize)
	assert.Equal(t, models.CampaignStatusRunning, created.Status)
	assert.Equal(t, "High spenders", created.SegmentName)
	assert.Equal(t, []string{created.CampaignID}, dispatcher.ids)

	campaign, err := store.Campaigns().GetByCampaignID(ctx, created.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.TotalAudience)
	assert.Equal(t, 1, campaign.PendingCount)
	assert.Equal(t, 0, campaign.SentCount)
	assert.NotNil(t, campaign.StartedAt)
	assert.True(t, campaign.IsBalanced())

	logs, err := store.Logs().ListPending(ctx, created.CampaignID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "c-1", logs[0].CustomerID)
	assert.Equal(t, "c-1@example.com", logs[0].CustomerEmail)
	assert.Equal(t, "Hi Asha, use {{code}}", logs[0].Message)
	assert.Equal(t, models.LogStatusPending, logs[0].Status)
	assert.NotEmpty(t, logs[0].MessageID)
}

func TestCreateCampaign_CustomMessageAlias(t *testing.T) {
	store := memstore.New()
	seedHighSpenders(t, store)
	svc, _ := newCampaignService(store)

	created, err := svc.CreateCampaign(context.Background(), &CreateCampaignRequest{
		Name:          "Summer",
		SegmentID:     "seg-1",
		CustomMessage: "Hello {{name}}",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello {{name}}", created.CustomMessage)
}

func TestCreateCampaign_WarnsAboutUnknownPlaceholders(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedHighSpenders(t, store)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewCampaignService(store, NewTemplateService(), &fakeDispatcher{}, zap.New(core))

	created, err := svc.CreateCampaign(ctx, &CreateCampaignRequest{Name: "Summer", SegmentID: "seg-1", MessageTemplate: "Hi {{name}}, use {{code}}"})
	require.NoError(t, err)

	warnings := logs.FilterMessage("campaign template has placeholders that are sent as written").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, []interface{}{"{{code}}"}, warnings[0].ContextMap()["placeholders"])

	// stray braces are not an error
	_, err = svc.CreateCampaign(ctx, &CreateCampaignRequest{Name: "Odd", SegmentID: "seg-1", MessageTemplate: "Hi {{name"})
	require.NoError(t, err)
	assert.Len(t, logs.FilterMessage("campaign template has placeholders that are sent as written").All(), 1)
	assert.NotEmpty(t, created.CampaignID)
}

func TestCreateCampaign_Errors(t *testing.T) {
	store := memstore.New()
	seedHighSpenders(t, store)
	require.NoError(t, store.Segments().Create(context.Background(), &models.Segment{
		SegmentID: "seg-empty",
		Name:      "Nobody",
		Rules:     []models.Rule{{Field: models.FieldTotalSpent, Operator: models.OpGreater, Value: 1000000.0}},
	}))
	svc, dispatcher := newCampaignService(store)

	_, err := svc.CreateCampaign(context.Background(), &CreateCampaignRequest{Name: "x", SegmentID: "missing", MessageTemplate: "Hi"})
	notFound := requireErrorAs[*NotFoundError](t, err)
	assert.Equal(t, "segment", notFound.Resource)

	_, err = svc.CreateCampaign(context.Background(), &CreateCampaignRequest{Name: "x", SegmentID: "seg-empty", MessageTemplate: "Hi"})
	validation := requireErrorAs[*ValidationError](t, err)
	assert.Equal(t, "No customers match the segment criteria", validation.Message)

	_, err = svc.CreateCampaign(context.Background(), &CreateCampaignRequest{Name: "x", SegmentID: "seg-1"})
	validation = requireErrorAs[*ValidationError](t, err)
	assert.Contains(t, validation.Message, "message_template is required")

	_, err = svc.CreateCampaign(context.Background(), &CreateCampaignRequest{Name: "x", SegmentID: "seg-1", MessageTemplate: "   "})
	requireErrorAs[*ValidationError](t, err)

	assert.Empty(t, dispatcher.ids)
	campaigns, total, err := store.Campaigns().List(context.Background(), repository.CampaignFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, campaigns)
}

func TestGetCampaign_UnknownSegment(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Campaigns().Create(ctx, &models.Campaign{CampaignID: "cmp-1", SegmentID: "gone", Status: models.CampaignStatusRunning}))
	svc, _ := newCampaignService(store)

	campaign, err := svc.GetCampaign(ctx, "cmp-1")
	require.NoError(t, err)
	assert.Equal(t, "Unknown Segment", campaign.SegmentName)

	_, err = svc.GetCampaign(ctx, "cmp-2")
	requireErrorAs[*NotFoundError](t, err)
}

func TestListCampaigns_Pagination(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, id := range []string{"cmp-1", "cmp-2", "cmp-3"} {
		require.NoError(t, store.Campaigns().Create(ctx, &models.Campaign{CampaignID: id, Status: models.CampaignStatusRunning}))
	}
	svc, _ := newCampaignService(store)

	campaigns, pagination, err := svc.ListCampaigns(ctx, repository.CampaignFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "cmp-3", campaigns[0].CampaignID)
	assert.Equal(t, "Unknown Segment", campaigns[0].SegmentName)
	assert.Equal(t, &PaginationInfo{Page: 1, PageSize: 2, TotalCount: 3, TotalPages: 2}, pagination)
}

func TestListLogs_StatusFilter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedHighSpenders(t, store)
	svc, _ := newCampaignService(store)

	require.NoError(t, store.Segments().Create(ctx, &models.Segment{SegmentID: "seg-all", Name: "Everyone"}))
	created, err := svc.CreateCampaign(ctx, &CreateCampaignRequest{Name: "All", SegmentID: "seg-all", MessageTemplate: "Hi {{name}}"})
	require.NoError(t, err)
	require.Equal(t, 2, created.AudienceSize)

	pending, err := store.Logs().ListPending(ctx, created.CampaignID)
	require.NoError(t, err)
	_, err = store.Logs().ApplyReceipts(ctx, []models.DeliveryReceipt{
		{MessageID: pending[0].MessageID, CampaignID: created.CampaignID, Status: models.LogStatusSent},
	})
	require.NoError(t, err)

	logs, pagination, err := svc.ListLogs(ctx, created.CampaignID, 1, 0, "all")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, 50, pagination.PageSize)
	assert.Equal(t, 2, pagination.TotalCount)

	logs, _, err = svc.ListLogs(ctx, created.CampaignID, 1, 10, "sent")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusSent, logs[0].Status)

	_, _, err = svc.ListLogs(ctx, created.CampaignID, 1, 10, "bounced")
	requireErrorAs[*ValidationError](t, err)

	_, _, err = svc.ListLogs(ctx, "missing", 1, 10, "")
	requireErrorAs[*NotFoundError](t, err)
}
