package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"minicrm/internal/models"
)

// FallbackFailureReason is reported when the real receipt could not be delivered
const FallbackFailureReason = "Vendor API communication error"

var failureReasons = []string{
	"Invalid email address",
	"Network timeout",
	"Rate limit exceeded",
	"Temporary server error",
	"Email bounced",
}

// SimulatorConfig configures the simulated vendor
type SimulatorConfig struct {
	SuccessRate    float64 // 0.0 to 1.0
	MinDelay       time.Duration
	MaxDelay       time.Duration
	CallbackURL    string
	FallbackURL    string
	ReceiptTimeout time.Duration
}

// Simulator accepts send requests and reports a random outcome to the
// receipt callback after a random delay
type Simulator struct {
	cfg      SimulatorConfig
	client   *http.Client
	validate *validator.Validate
	logger   *zap.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

// NewSimulator creates a new vendor simulator
func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	if cfg.SuccessRate < 0.0 {
		cfg.SuccessRate = 0.0
	}
	if cfg.SuccessRate > 1.0 {
		cfg.SuccessRate = 1.0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Simulator{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.ReceiptTimeout},
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Handler returns the vendor's HTTP API
func (s *Simulator) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/api/vendor/send", s.handleSend).Methods(http.MethodPost)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	return router
}

func (s *Simulator) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.Accept(req)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"messageId": req.MessageID,
	})
}

// Accept schedules the delivery receipt for a message
func (s *Simulator) Accept(req SendRequest) {
	delay := s.delay()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(delay)
		s.report(req)
	}()
}

// Wait blocks until every accepted message has been reported
func (s *Simulator) Wait() {
	s.wg.Wait()
}

func (s *Simulator) report(req SendRequest) {
	status, reason := s.outcome()
	vendorMessageID := "vendor_" + uuid.NewString()

	receipt := models.DeliveryReceipt{
		MessageID:         req.MessageID,
		CampaignID:        req.CampaignID,
		VendorMessageID:   &vendorMessageID,
		Status:            status,
		DeliveryTimestamp: s.now().UTC(),
	}
	if reason != "" {
		receipt.FailureReason = &reason
	}

	err := s.post(s.cfg.CallbackURL, receipt)
	if err == nil {
		s.logger.Info("delivery receipt reported",
			zap.String("message_id", req.MessageID),
			zap.String("status", string(status)),
			zap.String("failure_reason", reason),
		)
		return
	}

	s.logger.Error("failed to report delivery receipt", zap.String("message_id", req.MessageID), zap.Error(err))

	fallbackReason := FallbackFailureReason
	fallback := models.DeliveryReceipt{
		MessageID:         req.MessageID,
		CampaignID:        req.CampaignID,
		Status:            models.LogStatusFailed,
		FailureReason:     &fallbackReason,
		DeliveryTimestamp: s.now().UTC(),
	}
	if err := s.post(s.cfg.FallbackURL, fallback); err != nil {
		s.logger.Error("failed to report delivery failure", zap.String("message_id", req.MessageID), zap.Error(err))
	}
}

func (s *Simulator) post(url string, receipt models.DeliveryReceipt) error {
	if url == "" {
		return fmt.Errorf("no receipt url configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReceiptTimeout)
	defer cancel()
	return postJSON(ctx, s.client, url, receipt)
}

func (s *Simulator) delay() time.Duration {
	spread := s.cfg.MaxDelay - s.cfg.MinDelay
	if spread <= 0 {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + time.Duration(rand.Int64N(int64(spread)))
}

// outcome determines success based on the configured success rate
func (s *Simulator) outcome() (models.LogStatus, string) {
	if rand.Float64() < s.cfg.SuccessRate {
		return models.LogStatusSent, ""
	}
	return models.LogStatusFailed, failureReasons[rand.IntN(len(failureReasons))]
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
