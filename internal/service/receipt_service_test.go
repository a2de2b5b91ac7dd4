package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/delivery"
	"minicrm/internal/models"
	"minicrm/internal/repository/memstore"
)

func TestSubmitReceipt_QueuesNormalizedReceipt(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Campaigns().Create(ctx, &models.Campaign{CampaignID: "cmp-1", Status: models.CampaignStatusRunning, TotalAudience: 1, PendingCount: 1}))
	require.NoError(t, store.Logs().CreateBatch(ctx, []*models.CommunicationLog{{MessageID: "m-1", CampaignID: "cmp-1"}}))

	aggregator := delivery.NewAggregator(store, delivery.Config{}, nil)
	svc := NewReceiptService(aggregator, nil)

	require.NoError(t, svc.SubmitReceipt(ctx, &models.DeliveryReceipt{MessageID: "m-1", CampaignID: "cmp-1", Status: "sent"}))

	n, err := aggregator.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	log, err := store.Logs().GetByMessageID(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.LogStatusSent, log.Status)
}

func TestSubmitReceipt_Validation(t *testing.T) {
	svc := NewReceiptService(delivery.NewAggregator(memstore.New(), delivery.Config{}, nil), nil)

	tests := []struct {
		name    string
		receipt models.DeliveryReceipt
	}{
		{name: "missing message id", receipt: models.DeliveryReceipt{CampaignID: "cmp-1", Status: models.LogStatusSent}},
		{name: "missing campaign id", receipt: models.DeliveryReceipt{MessageID: "m-1", Status: models.LogStatusSent}},
		{name: "pending status", receipt: models.DeliveryReceipt{MessageID: "m-1", CampaignID: "cmp-1", Status: models.LogStatusPending}},
		{name: "missing status", receipt: models.DeliveryReceipt{MessageID: "m-1", CampaignID: "cmp-1"}},
		{name: "message id too long", receipt: models.DeliveryReceipt{MessageID: strings.Repeat("m", 101), CampaignID: "cmp-1", Status: models.LogStatusSent}},
		{name: "vendor message id too long", receipt: models.DeliveryReceipt{MessageID: "m-1", CampaignID: "cmp-1", Status: models.LogStatusSent, VendorMessageID: strPtr(strings.Repeat("v", 101))}},
		{name: "NUL in failure reason", receipt: models.DeliveryReceipt{MessageID: "m-1", CampaignID: "cmp-1", Status: models.LogStatusFailed, FailureReason: strPtr("bounced\x00")}},
		{name: "NUL in message id", receipt: models.DeliveryReceipt{MessageID: "m-1\x00", CampaignID: "cmp-1", Status: models.LogStatusSent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt := tt.receipt
			err := svc.SubmitReceipt(context.Background(), &receipt)
			requireErrorAs[*ValidationError](t, err)
		})
	}
}

func TestSubmitReceipt_QueueFullIsTransient(t *testing.T) {
	svc := NewReceiptService(delivery.NewAggregator(memstore.New(), delivery.Config{QueueSize: 1}, nil), nil)
	receipt := func() *models.DeliveryReceipt {
		return &models.DeliveryReceipt{MessageID: "m-1", CampaignID: "cmp-1", Status: models.LogStatusFailed}
	}

	require.NoError(t, svc.SubmitReceipt(context.Background(), receipt()))

	err := svc.SubmitReceipt(context.Background(), receipt())
	transientErr := requireErrorAs[*TransientError](t, err)
	assert.ErrorIs(t, transientErr, delivery.ErrQueueFull)
}

func TestSubmitReceipt_RejectedReceiptIsNotQueued(t *testing.T) {
	aggregator := delivery.NewAggregator(memstore.New(), delivery.Config{QueueSize: 1}, nil)
	svc := NewReceiptService(aggregator, nil)

	long := &models.DeliveryReceipt{MessageID: "m-1", CampaignID: "cmp-1", Status: models.LogStatusSent, VendorMessageID: strPtr(strings.Repeat("v", 101))}
	requireErrorAs[*ValidationError](t, svc.SubmitReceipt(context.Background(), long))

	// the only queue slot is still free
	require.NoError(t, svc.SubmitReceipt(context.Background(), &models.DeliveryReceipt{MessageID: "m-2", CampaignID: "cmp-1", Status: models.LogStatusSent}))
}
