package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/rules"
)

func TestStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := New()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		_, err := tx.Customers().Create(ctx, &models.Customer{CustomerID: "c-1", Name: "Asha"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := store.Customers().Exists(ctx, "c-1")
	require.NoError(t, err)
	assert.False(t, exists)

	err = store.WithinTx(ctx, func(tx repository.Store) error {
		_, err := tx.Customers().Create(ctx, &models.Customer{CustomerID: "c-1", Name: "Asha"})
		return err
	})
	require.NoError(t, err)

	exists, err = store.Customers().Exists(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_FindMatchingUsesPredicate(t *testing.T) {
	ctx := context.Background()
	store := New()

	for id, spent := range map[string]int64{"c-1": 6000, "c-2": 3000} {
		_, err := store.Customers().Create(ctx, &models.Customer{CustomerID: id, TotalSpent: decimal.NewFromInt(spent)})
		require.NoError(t, err)
	}

	predicate := rules.Compile([]models.Rule{{Field: models.FieldTotalSpent, Operator: models.OpGreater, Value: 5000}})
	matched, err := store.Customers().FindMatching(ctx, predicate)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "c-1", matched[0].CustomerID)
}

func TestStore_ApplyReceiptsOnlyMovesPending(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Logs().CreateBatch(ctx, []*models.CommunicationLog{
		{MessageID: "m-1", CampaignID: "camp-1"},
	}))

	receipt := models.DeliveryReceipt{MessageID: "m-1", CampaignID: "camp-1", Status: models.LogStatusSent, DeliveryTimestamp: time.Now()}
	applied, err := store.Logs().ApplyReceipts(ctx, []models.DeliveryReceipt{receipt, receipt})
	require.NoError(t, err)
	assert.Len(t, applied, 1)

	applied, err = store.Logs().ApplyReceipts(ctx, []models.DeliveryReceipt{receipt})
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestStore_ApplyDeliveryCountsCompletesOnce(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Campaigns().Create(ctx, &models.Campaign{
		CampaignID:    "camp-1",
		Status:        models.CampaignStatusRunning,
		TotalAudience: 2,
		PendingCount:  2,
	}))

	progress, err := store.Campaigns().ApplyDeliveryCounts(ctx, "camp-1", 1, 0)
	require.NoError(t, err)
	assert.False(t, progress.Completed)

	progress, err = store.Campaigns().ApplyDeliveryCounts(ctx, "camp-1", 0, 1)
	require.NoError(t, err)
	assert.True(t, progress.Completed)

	campaign, err := store.Campaigns().GetByCampaignID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, campaign.Status)
	assert.NotNil(t, campaign.CompletedAt)
	assert.True(t, campaign.IsBalanced())

	_, err = store.Campaigns().ApplyDeliveryCounts(ctx, "ghost", 1, 0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
