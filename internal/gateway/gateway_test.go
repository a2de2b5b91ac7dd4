package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/dispatch"
	"minicrm/internal/models"
)

type receiptSink struct {
	mu       sync.Mutex
	receipts []models.DeliveryReceipt
	status   int
}

func (s *receiptSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var receipt models.DeliveryReceipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err == nil {
		s.mu.Lock()
		s.receipts = append(s.receipts, receipt)
		s.mu.Unlock()
	}
	status := s.status
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func (s *receiptSink) all() []models.DeliveryReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DeliveryReceipt(nil), s.receipts...)
}

func TestClient_SendPostsVendorPayload(t *testing.T) {
	var got SendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, 0)
	err := client.Send(context.Background(), dispatch.Job{
		MessageID:     "m-1",
		CampaignID:    "cmp-1",
		CustomerID:    "c-1",
		CustomerEmail: "asha@example.com",
		Message:       "Hi Asha",
	})

	require.NoError(t, err)
	assert.Equal(t, SendRequest{
		MessageID:     "m-1",
		CampaignID:    "cmp-1",
		CustomerID:    "c-1",
		CustomerEmail: "asha@example.com",
		Message:       "Hi Asha",
	}, got)
}

func TestClient_SendReportsVendorErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewClient(server.URL, 0).Send(context.Background(), dispatch.Job{MessageID: "m-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_SendConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewClient(url, 0).Send(context.Background(), dispatch.Job{MessageID: "m-1"})
	assert.Error(t, err)
}

func TestSimulator_ReportsSuccess(t *testing.T) {
	sink := &receiptSink{}
	callback := httptest.NewServer(sink)
	defer callback.Close()

	sim := NewSimulator(SimulatorConfig{SuccessRate: 1, CallbackURL: callback.URL}, nil)
	sim.Accept(SendRequest{MessageID: "m-1", CampaignID: "cmp-1"})
	sim.Wait()

	receipts := sink.all()
	require.Len(t, receipts, 1)
	assert.Equal(t, "m-1", receipts[0].MessageID)
	assert.Equal(t, "cmp-1", receipts[0].CampaignID)
	assert.Equal(t, models.LogStatusSent, receipts[0].Status)
	assert.Nil(t, receipts[0].FailureReason)
	require.NotNil(t, receipts[0].VendorMessageID)
	assert.True(t, strings.HasPrefix(*receipts[0].VendorMessageID, "vendor_"))
	assert.False(t, receipts[0].DeliveryTimestamp.IsZero())
}

func TestSimulator_ReportsFailureReason(t *testing.T) {
	sink := &receiptSink{}
	callback := httptest.NewServer(sink)
	defer callback.Close()

	sim := NewSimulator(SimulatorConfig{SuccessRate: 0, CallbackURL: callback.URL}, nil)
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		sim.Accept(SendRequest{MessageID: id, CampaignID: "cmp-1"})
	}
	sim.Wait()

	receipts := sink.all()
	require.Len(t, receipts, 3)
	for _, r := range receipts {
		assert.Equal(t, models.LogStatusFailed, r.Status)
		require.NotNil(t, r.FailureReason)
		assert.Contains(t, failureReasons, *r.FailureReason)
	}
}

func TestSimulator_FallsBackWhenCallbackFails(t *testing.T) {
	primary := &receiptSink{status: http.StatusInternalServerError}
	primaryServer := httptest.NewServer(primary)
	defer primaryServer.Close()

	fallback := &receiptSink{}
	fallbackServer := httptest.NewServer(fallback)
	defer fallbackServer.Close()

	sim := NewSimulator(SimulatorConfig{
		SuccessRate: 1,
		CallbackURL: primaryServer.URL,
		FallbackURL: fallbackServer.URL,
	}, nil)
	sim.Accept(SendRequest{MessageID: "m-1", CampaignID: "cmp-1"})
	sim.Wait()

	receipts := fallback.all()
	require.Len(t, receipts, 1)
	assert.Equal(t, models.LogStatusFailed, receipts[0].Status)
	require.NotNil(t, receipts[0].FailureReason)
	assert.Equal(t, FallbackFailureReason, *receipts[0].FailureReason)
}

func TestSimulator_Handler(t *testing.T) {
	sink := &receiptSink{}
	callback := httptest.NewServer(sink)
	defer callback.Close()

	sim := NewSimulator(SimulatorConfig{SuccessRate: 1, CallbackURL: callback.URL}, nil)
	handler := sim.Handler()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "accepted", body: `{"messageId":"m-1","campaignId":"cmp-1","message":"Hi"}`, wantStatus: http.StatusAccepted},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing message id", body: `{"campaignId":"cmp-1"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/vendor/send", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	sim.Wait()
	assert.Len(t, sink.all(), 1)
}

func TestSimulator_DelayWithinBounds(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{MinDelay: 1000, MaxDelay: 4000}, nil)
	for i := 0; i < 50; i++ {
		d := sim.delay()
		assert.GreaterOrEqual(t, int64(d), int64(1000))
		assert.Less(t, int64(d), int64(4000))
	}
}
