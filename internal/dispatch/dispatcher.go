package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"minicrm/internal/repository"
)

// Dispatcher starts delivery of a campaign's pending logs in the background
type Dispatcher struct {
	logs     repository.LogRepository
	queue    JobQueue
	schedule Schedule
	logger   *zap.Logger

	now    func() time.Time
	jitter func(time.Duration) time.Duration
	wg     sync.WaitGroup
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(logs repository.LogRepository, queue JobQueue, schedule Schedule, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logs:     logs,
		queue:    queue,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
		jitter:   randomJitter,
	}
}

// Dispatch schedules the campaign's pending logs without blocking the caller.
// Failures are logged; nothing is reported back.
func (d *Dispatcher) Dispatch(campaignID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		n, err := d.DispatchNow(context.Background(), campaignID)
		if err != nil {
			d.logger.Error("campaign dispatch failed", zap.String("campaign_id", campaignID), zap.Int("queued", n), zap.Error(err))
			return
		}
		d.logger.Info("campaign dispatch scheduled", zap.String("campaign_id", campaignID), zap.Int("queued", n))
	}()
}

// DispatchNow loads the campaign's pending logs and enqueues one job per log.
// It returns how many jobs were enqueued.
func (d *Dispatcher) DispatchNow(ctx context.Context, campaignID string) (int, error) {
	pending, err := d.logs.ListPending(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending logs: %w", err)
	}

	jobs := Plan(pending, d.now(), d.schedule, d.jitter)
	for i, job := range jobs {
		if err := d.queue.Enqueue(ctx, job); err != nil {
			return i, fmt.Errorf("failed to enqueue message %s: %w", job.MessageID, err)
		}
	}
	return len(jobs), nil
}

// Wait blocks until background dispatches started so far have enqueued their jobs
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
