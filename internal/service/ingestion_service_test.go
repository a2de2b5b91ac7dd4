package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/models"
	"minicrm/internal/repository/memstore"
	"minicrm/internal/stream"
)

func validCustomerRequest() *CreateCustomerRequest {
	city := "Nairobi"
	return &CreateCustomerRequest{
		CustomerID:       "c-1",
		Name:             "Asha",
		Email:            "asha@example.com",
		Phone:            "+254700000001",
		City:             &city,
		RegistrationDate: timePtr(refTime),
	}
}

func TestSubmitCustomer_Queues(t *testing.T) {
	publisher := &fakePublisher{}
	svc := NewIngestionService(memstore.New(), publisher, nil)

	result, err := svc.SubmitCustomer(context.Background(), validCustomerRequest())
	require.NoError(t, err)

	assert.Equal(t, "queued", result.Status)
	assert.Equal(t, "c-1", result.ID)
	assert.Equal(t, "1-0", result.MessageID)
	require.Len(t, publisher.customers, 1)
	assert.True(t, publisher.customers[0].TotalSpent.IsZero())
	assert.Equal(t, "Nairobi", publisher.customers[0].CityName())
}

func TestSubmitCustomer_Validation(t *testing.T) {
	publisher := &fakePublisher{}
	svc := NewIngestionService(memstore.New(), publisher, nil)

	req := validCustomerRequest()
	req.Email = "not-an-email"
	req.RegistrationDate = nil

	_, err := svc.SubmitCustomer(context.Background(), req)
	validation := requireErrorAs[*ValidationError](t, err)
	assert.Contains(t, validation.Message, "email must be a valid email address")
	assert.Contains(t, validation.Message, "registration_date is required")
	assert.Empty(t, publisher.customers)
}

func TestSubmitCustomer_Conflict(t *testing.T) {
	store := memstore.New()
	seedCustomer(t, store, "c-1", "Asha", 0, "")
	publisher := &fakePublisher{}
	svc := NewIngestionService(store, publisher, nil)

	_, err := svc.SubmitCustomer(context.Background(), validCustomerRequest())
	requireErrorAs[*ConflictError](t, err)
	assert.Empty(t, publisher.customers)
}

func TestSubmitCustomer_PublishFailureIsTransient(t *testing.T) {
	svc := NewIngestionService(memstore.New(), &fakePublisher{err: errors.New("redis down")}, nil)

	_, err := svc.SubmitCustomer(context.Background(), validCustomerRequest())
	transientErr := requireErrorAs[*TransientError](t, err)
	assert.Equal(t, "queue customer", transientErr.Op)
}

func TestSubmitOrder(t *testing.T) {
	valid := func() *CreateOrderRequest {
		return &CreateOrderRequest{
			OrderID:    "o-1",
			CustomerID: "c-1",
			Amount:     decimal.NewFromInt(1000),
			Items:      []models.OrderItem{{SKU: "sku-1", Name: "Shoes", Quantity: 1, Price: decimal.NewFromInt(1000)}},
			OrderDate:  timePtr(refTime),
		}
	}

	t.Run("defaults status", func(t *testing.T) {
		publisher := &fakePublisher{}
		svc := NewIngestionService(memstore.New(), publisher, nil)

		_, err := svc.SubmitOrder(context.Background(), valid())
		require.NoError(t, err)
		require.Len(t, publisher.orders, 1)
		assert.Equal(t, models.DefaultOrderStatus, publisher.orders[0].Status)
	})

	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{name: "negative amount", mutate: func(r *CreateOrderRequest) { r.Amount = decimal.NewFromInt(-1) }},
		{name: "zero quantity", mutate: func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{name: "negative price", mutate: func(r *CreateOrderRequest) { r.Items[0].Price = decimal.NewFromInt(-5) }},
		{name: "missing order id", mutate: func(r *CreateOrderRequest) { r.OrderID = "" }},
		{name: "missing order date", mutate: func(r *CreateOrderRequest) { r.OrderDate = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &fakePublisher{}
			svc := NewIngestionService(memstore.New(), publisher, nil)

			req := valid()
			tt.mutate(req)
			_, err := svc.SubmitOrder(context.Background(), req)
			requireErrorAs[*ValidationError](t, err)
			assert.Empty(t, publisher.orders)
		})
	}
}

func TestHandleCustomerMessage_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewIngestionService(store, &fakePublisher{}, nil)

	msg := streamMessage(t, stream.TypeCreateCustomer, validCustomerRequest().toCustomer())
	require.NoError(t, svc.HandleCustomerMessage(ctx, msg))
	require.NoError(t, svc.HandleCustomerMessage(ctx, msg))

	customers, err := store.Customers().List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Asha", customers[0].Name)
}

func TestHandleCustomerMessage_Malformed(t *testing.T) {
	svc := NewIngestionService(memstore.New(), &fakePublisher{}, nil)

	err := svc.HandleCustomerMessage(context.Background(), stream.Message{Type: stream.TypeCreateCustomer, Data: []byte("{")})
	requireErrorAs[*ProcessingError](t, err)

	err = svc.HandleCustomerMessage(context.Background(), streamMessage(t, stream.TypeCreateOrder, map[string]string{}))
	requireErrorAs[*ProcessingError](t, err)

	err = svc.HandleCustomerMessage(context.Background(), streamMessage(t, stream.TypeCreateCustomer, map[string]string{"name": "x"}))
	requireErrorAs[*ProcessingError](t, err)
}

func TestHandleOrderMessage_AccumulatesAggregates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedCustomer(t, store, "c-1", "Asha", 0, "")
	svc := NewIngestionService(store, &fakePublisher{}, nil)

	first := &models.Order{OrderID: "o-1", CustomerID: "c-1", Amount: decimal.NewFromInt(1000), OrderDate: refTime}
	second := &models.Order{OrderID: "o-2", CustomerID: "c-1", Amount: decimal.NewFromInt(150), OrderDate: refTime.Add(48 * time.Hour)}

	require.NoError(t, svc.HandleOrderMessage(ctx, streamMessage(t, stream.TypeCreateOrder, first)))
	require.NoError(t, svc.HandleOrderMessage(ctx, streamMessage(t, stream.TypeCreateOrder, second)))
	// redelivery of the first order
	require.NoError(t, svc.HandleOrderMessage(ctx, streamMessage(t, stream.TypeCreateOrder, first)))

	customer, err := svc.GetCustomer(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1150).Equal(customer.TotalSpent), "total_spent = %s", customer.TotalSpent)
	assert.Equal(t, 2, customer.TotalOrders)
	require.NotNil(t, customer.LastOrderDate)
	assert.True(t, second.OrderDate.Equal(*customer.LastOrderDate))

	orders, err := svc.ListCustomerOrders(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	stored, err := store.Orders().GetByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultOrderStatus, stored.Status)
}

func TestHandleOrderMessage_UnknownCustomer(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewIngestionService(store, &fakePublisher{}, nil)

	order := &models.Order{OrderID: "o-1", CustomerID: "ghost", Amount: decimal.NewFromInt(10)}
	require.NoError(t, svc.HandleOrderMessage(ctx, streamMessage(t, stream.TypeCreateOrder, order)))

	stored, err := store.Orders().GetByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, refTime.Equal(stored.OrderDate))

	_, err = svc.GetCustomer(ctx, "ghost")
	requireErrorAs[*NotFoundError](t, err)
}
