// Package delivery batches delivery receipts and applies them to
// communication logs and campaign counters.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"minicrm/internal/metrics"
	"minicrm/internal/models"
	"minicrm/internal/repository"
)

var (
	// ErrQueueFull is returned by Submit when the receipt buffer is full
	ErrQueueFull = errors.New("delivery receipt queue is full")
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("delivery receipt aggregator stopped")
)

const flushTimeout = 10 * time.Second

// Config configures batching
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	// MaxAttempts is how many times a whole batch is retried before its
	// receipts are applied one by one, and how many times a single receipt
	// may then fail before it is dropped
	MaxAttempts int
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

// Aggregator buffers receipts and flushes at most one batch per tick.
// A single goroutine owns the batch, so flushes never overlap.
type Aggregator struct {
	store  repository.Store
	cfg    Config
	logger *zap.Logger

	receipts chan models.DeliveryReceipt
	batch    []models.DeliveryReceipt

	// batchFailures counts consecutive failed flushes of the current batch
	batchFailures int
	rowFailures   map[string]int

	mu      sync.RWMutex
	started bool
	stopped bool
	quit    chan struct{}
	done    chan struct{}
}

// NewAggregator creates a new aggregator
func NewAggregator(store repository.Store, cfg Config, logger *zap.Logger) *Aggregator {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:       store,
		cfg:         cfg,
		logger:      logger,
		receipts:    make(chan models.DeliveryReceipt, cfg.QueueSize),
		batch:       make([]models.DeliveryReceipt, 0, cfg.BatchSize),
		rowFailures: make(map[string]int),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Submit queues a receipt and returns immediately
func (a *Aggregator) Submit(receipt models.DeliveryReceipt) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.stopped {
		metrics.ReceiptsSubmitted.WithLabelValues("rejected").Inc()
		return ErrStopped
	}

	select {
	case a.receipts <- receipt:
		metrics.ReceiptsSubmitted.WithLabelValues("accepted").Inc()
		return nil
	default:
		metrics.ReceiptsSubmitted.WithLabelValues("rejected").Inc()
		return ErrQueueFull
	}
}

// Start begins the flush loop
func (a *Aggregator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("aggregator already started")
	}
	a.started = true

	go a.run()
	a.logger.Info("delivery receipt aggregator started",
		zap.Int("batch_size", a.cfg.BatchSize),
		zap.Duration("flush_interval", a.cfg.FlushInterval),
	)
	return nil
}

// Stop rejects new receipts, makes a last attempt to flush what is buffered
// and waits for the flush loop to exit
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	started := a.started
	a.mu.Unlock()

	close(a.quit)
	if started {
		<-a.done
	}
}

func (a *Aggregator) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Flush(context.Background())
		case <-a.quit:
			a.drain()
			return
		}
	}
}

// drain flushes batches until the buffer is empty or a flush fails
func (a *Aggregator) drain() {
	for {
		n, err := a.Flush(context.Background())
		if err != nil || n == 0 {
			if pending := len(a.batch) + len(a.receipts); pending > 0 {
				a.logger.Warn("delivery receipts left unflushed at shutdown", zap.Int("count", pending))
			}
			return
		}
	}
}

// Flush applies the oldest batch of up to BatchSize receipts in one
// transaction. On failure the batch is kept and retried on the next call.
// Once a batch has failed MaxAttempts times its receipts are applied one per
// transaction, so a receipt the store refuses cannot hold back the others.
// Only the flush loop may call it once the aggregator is started.
func (a *Aggregator) Flush(ctx context.Context) (int, error) {
	a.fill()
	defer a.reportDepth()

	if len(a.batch) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	if a.batchFailures >= a.cfg.MaxAttempts {
		return a.flushEach(ctx)
	}

	start := time.Now()
	applied, completed, err := a.apply(ctx, a.batch)
	if err != nil {
		a.batchFailures++
		metrics.FlushDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		a.logger.Error("failed to flush delivery receipts, batch kept for retry",
			zap.Int("batch_size", len(a.batch)),
			zap.Int("attempt", a.batchFailures),
			zap.Error(err),
		)
		return 0, err
	}
	metrics.FlushDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	a.record(applied, completed)

	n := len(a.batch)
	if skipped := n - len(applied); skipped > 0 {
		a.logger.Debug("ignored duplicate or unknown delivery receipts", zap.Int("count", skipped))
	}
	a.resetBatch(a.batch[:0])
	return n, nil
}

// flushEach applies the batch one receipt per transaction. Receipts that
// fail stay in the batch until they have failed MaxAttempts times on their
// own, then they are dropped and logged in full.
func (a *Aggregator) flushEach(ctx context.Context) (int, error) {
	var kept []models.DeliveryReceipt
	var lastErr error
	done := 0

	for _, receipt := range a.batch {
		applied, completed, err := a.apply(ctx, []models.DeliveryReceipt{receipt})
		if err == nil {
			a.record(applied, completed)
			delete(a.rowFailures, receipt.MessageID)
			done++
			continue
		}

		lastErr = err
		a.rowFailures[receipt.MessageID]++
		if a.rowFailures[receipt.MessageID] < a.cfg.MaxAttempts {
			kept = append(kept, receipt)
			continue
		}

		delete(a.rowFailures, receipt.MessageID)
		done++
		metrics.ReceiptsDropped.Inc()
		a.logger.Error("dropping delivery receipt after repeated failures",
			zap.String("message_id", receipt.MessageID),
			zap.String("campaign_id", receipt.CampaignID),
			zap.String("status", string(receipt.Status)),
			zap.Stringp("vendor_message_id", receipt.VendorMessageID),
			zap.Stringp("failure_reason", receipt.FailureReason),
			zap.Time("delivery_timestamp", receipt.DeliveryTimestamp),
			zap.Error(err),
		)
	}

	if len(kept) > 0 {
		a.batch = append(a.batch[:0], kept...)
		return done, fmt.Errorf("%d delivery receipts kept for retry: %w", len(kept), lastErr)
	}
	a.resetBatch(a.batch[:0])
	return done, nil
}

func (a *Aggregator) resetBatch(batch []models.DeliveryReceipt) {
	a.batch = batch
	a.batchFailures = 0
	clear(a.rowFailures)
}

func (a *Aggregator) record(applied []models.AppliedReceipt, completed []*models.CampaignProgress) {
	for _, r := range applied {
		metrics.ReceiptsApplied.WithLabelValues(string(r.Status)).Inc()
	}
	for _, progress := range completed {
		metrics.CampaignsCompleted.Inc()
		a.logger.Info("campaign completed",
			zap.String("campaign_id", progress.CampaignID),
			zap.Int("sent_count", progress.SentCount),
			zap.Int("failed_count", progress.FailedCount),
		)
	}
}

// fill tops up the batch from the queue without blocking
func (a *Aggregator) fill() {
	for len(a.batch) < a.cfg.BatchSize {
		select {
		case receipt := <-a.receipts:
			a.batch = append(a.batch, receipt)
		default:
			return
		}
	}
}

func (a *Aggregator) reportDepth() {
	metrics.ReceiptQueueDepth.Set(float64(len(a.batch) + len(a.receipts)))
}

// apply moves the batch's PENDING logs to their final status and folds the
// changed logs into campaign counters, all in one transaction
func (a *Aggregator) apply(ctx context.Context, batch []models.DeliveryReceipt) ([]models.AppliedReceipt, []*models.CampaignProgress, error) {
	var applied []models.AppliedReceipt
	var completed []*models.CampaignProgress

	err := a.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		applied, err = tx.Logs().ApplyReceipts(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to update communication logs: %w", err)
		}

		completed = completed[:0]
		for _, t := range tally(applied) {
			progress, err := tx.Campaigns().ApplyDeliveryCounts(ctx, t.campaignID, t.sent, t.failed)
			if errors.Is(err, repository.ErrNotFound) {
				a.logger.Warn("delivery receipts reference a missing campaign", zap.String("campaign_id", t.campaignID))
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to update campaign %s counters: %w", t.campaignID, err)
			}
			if progress.Completed {
				completed = append(completed, progress)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return applied, completed, nil
}

type campaignTally struct {
	campaignID string
	sent       int
	failed     int
}

// tally groups applied receipts by campaign in first-seen order
func tally(applied []models.AppliedReceipt) []*campaignTally {
	var order []*campaignTally
	byCampaign := make(map[string]*campaignTally)

	for _, r := range applied {
		t, ok := byCampaign[r.CampaignID]
		if !ok {
			t = &campaignTally{campaignID: r.CampaignID}
			byCampaign[r.CampaignID] = t
			order = append(order, t)
		}
		switch r.Status {
		case models.LogStatusSent:
			t.sent++
		case models.LogStatusFailed:
			t.failed++
		}
	}
	return order
}
