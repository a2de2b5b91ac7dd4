package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/stream"
)

var refTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	customers []*models.Customer
	orders    []*models.Order
	err       error
}

func (p *fakePublisher) PublishCustomer(_ context.Context, customer *models.Customer) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.customers = append(p.customers, customer)
	return fmt.Sprintf("%d-0", len(p.customers)), nil
}

func (p *fakePublisher) PublishOrder(_ context.Context, order *models.Order) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.orders = append(p.orders, order)
	return fmt.Sprintf("%d-0", len(p.orders)), nil
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *fakeDispatcher) Dispatch(campaignID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, campaignID)
}

func streamMessage(t *testing.T, msgType string, payload interface{}) stream.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return stream.Message{ID: "1-0", Type: msgType, Data: data, Timestamp: refTime}
}

func seedCustomer(t *testing.T, store repository.Store, id, name string, spent int64, city string) {
	t.Helper()
	customer := &models.Customer{
		CustomerID:       id,
		Name:             name,
		Email:            id + "@example.com",
		Phone:            "+254700000000",
		RegistrationDate: refTime.AddDate(-1, 0, 0),
		TotalSpent:       decimal.NewFromInt(spent),
	}
	if city != "" {
		customer.City = &city
	}
	_, err := store.Customers().Create(context.Background(), customer)
	require.NoError(t, err)
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

func requireErrorAs[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	require.True(t, errors.As(err, &target), "expected %T, got %v", target, err)
	return target
}
