package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"minicrm/internal/metrics"
)

// ErrPoolStopped is returned by Enqueue after Stop
var ErrPoolStopped = errors.New("dispatch pool stopped")

// PoolConfig configures a worker pool
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Pool runs jobs on a fixed number of workers. Each worker holds one job,
// waits for its NotBefore time and sends it, so at most Workers sends are
// ever in flight.
type Pool struct {
	sender Sender
	logger *zap.Logger
	cfg    PoolConfig

	jobs     chan Job
	quit     chan struct{}
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewPool creates a new pool instance
func NewPool(sender Sender, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		sender: sender,
		logger: logger,
		cfg:    cfg,
		jobs:   make(chan Job, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("dispatch pool started", zap.Int("workers", p.cfg.Workers))
}

// Enqueue hands a job to the pool, waiting while the queue is full
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}

	select {
	case p.jobs <- job:
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the workers. Queued jobs that have not started are dropped and
// their logs stay PENDING.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		if dropped := len(p.jobs); dropped > 0 {
			p.logger.Warn("dispatch pool stopped with queued jobs", zap.Int("dropped", dropped))
		}
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case job := <-p.jobs:
			if !p.wait(job.NotBefore) {
				return
			}
			p.send(job)
		}
	}
}

func (p *Pool) wait(until time.Time) bool {
	delay := time.Until(until)
	if delay <= 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-p.quit:
		return false
	}
}

// send never marks the log itself; the outcome arrives as a delivery receipt
func (p *Pool) send(job Job) {
	if err := p.sender.Send(context.Background(), job); err != nil {
		metrics.DispatchSends.WithLabelValues("failed").Inc()
		p.logger.Error("vendor send failed",
			zap.String("message_id", job.MessageID),
			zap.String("campaign_id", job.CampaignID),
			zap.Error(err),
		)
		return
	}
	metrics.DispatchSends.WithLabelValues("sent").Inc()
}
