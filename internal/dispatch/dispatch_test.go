package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/models"
	"minicrm/internal/repository/memstore"
)

type recordingSender struct {
	mu       sync.Mutex
	jobs     []Job
	inFlight int32
	peak     int32
	delay    time.Duration
	err      error
}

func (s *recordingSender) Send(_ context.Context, job Job) error {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&s.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&s.peak, peak, n) {
			break
		}
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return s.err
}

func (s *recordingSender) sent() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

func pendingLogs(campaignID string, n int) []*models.CommunicationLog {
	logs := make([]*models.CommunicationLog, 0, n)
	for i := 0; i < n; i++ {
		logs = append(logs, &models.CommunicationLog{
			MessageID:     campaignID + "-m" + string(rune('a'+i)),
			CampaignID:    campaignID,
			CustomerID:    "c" + string(rune('a'+i)),
			CustomerEmail: "user@example.com",
			Message:       "Hi",
			Status:        models.LogStatusPending,
		})
	}
	return logs
}

func TestPlan_StaggersSends(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	schedule := Schedule{Interval: 500 * time.Millisecond, MaxJitter: time.Second}

	jobs := Plan(pendingLogs("cmp", 3), start, schedule, func(max time.Duration) time.Duration {
		assert.Equal(t, time.Second, max)
		return 250 * time.Millisecond
	})

	require.Len(t, jobs, 3)
	assert.Equal(t, start.Add(250*time.Millisecond), jobs[0].NotBefore)
	assert.Equal(t, start.Add(750*time.Millisecond), jobs[1].NotBefore)
	assert.Equal(t, start.Add(1250*time.Millisecond), jobs[2].NotBefore)
	assert.Equal(t, "cmp-mb", jobs[1].MessageID)
	assert.Equal(t, "cmp", jobs[1].CampaignID)
}

func TestPlan_RandomJitterStaysInRange(t *testing.T) {
	start := time.Now()
	jobs := Plan(pendingLogs("cmp", 20), start, DefaultSchedule, nil)

	for i, job := range jobs {
		offset := job.NotBefore.Sub(start) - time.Duration(i)*DefaultSchedule.Interval
		assert.GreaterOrEqual(t, offset, time.Duration(0))
		assert.Less(t, offset, DefaultSchedule.MaxJitter)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	sender := &recordingSender{delay: 20 * time.Millisecond}
	pool := NewPool(sender, PoolConfig{Workers: 2, QueueSize: 10}, nil)
	pool.Start()
	defer pool.Stop()

	for _, job := range Plan(pendingLogs("cmp", 6), time.Now(), Schedule{}, nil) {
		require.NoError(t, pool.Enqueue(context.Background(), job))
	}

	require.Eventually(t, func() bool { return len(sender.sent()) == 6 }, 2*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&sender.peak), int32(2))
}

func TestPool_WaitsForNotBefore(t *testing.T) {
	sender := &recordingSender{}
	pool := NewPool(sender, PoolConfig{Workers: 1}, nil)
	pool.Start()
	defer pool.Stop()

	due := time.Now().Add(100 * time.Millisecond)
	require.NoError(t, pool.Enqueue(context.Background(), Job{MessageID: "m-1", NotBefore: due}))

	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, time.Now().Before(due))
}

func TestPool_SendErrorsDoNotStopWorkers(t *testing.T) {
	sender := &recordingSender{err: errors.New("vendor down")}
	pool := NewPool(sender, PoolConfig{Workers: 1}, nil)
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(context.Background(), Job{MessageID: "m-1"}))
	require.NoError(t, pool.Enqueue(context.Background(), Job{MessageID: "m-2"}))

	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	pool := NewPool(&recordingSender{}, PoolConfig{Workers: 1}, nil)
	pool.Start()
	pool.Stop()
	pool.Stop()

	err := pool.Enqueue(context.Background(), Job{MessageID: "m-1"})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_StopAbandonsWaitingJobs(t *testing.T) {
	sender := &recordingSender{}
	pool := NewPool(sender, PoolConfig{Workers: 1}, nil)
	pool.Start()

	require.NoError(t, pool.Enqueue(context.Background(), Job{MessageID: "m-1", NotBefore: time.Now().Add(time.Hour)}))

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Empty(t, sender.sent())
}

func TestDispatcher_EnqueuesPendingLogs(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	logs := pendingLogs("cmp-1", 3)
	logs[2].Status = models.LogStatusSent
	require.NoError(t, store.Logs().CreateBatch(ctx, logs))
	require.NoError(t, store.Logs().CreateBatch(ctx, pendingLogs("cmp-2", 2)))

	sender := &recordingSender{}
	pool := NewPool(sender, PoolConfig{Workers: 4}, nil)
	pool.Start()
	defer pool.Stop()

	dispatcher := NewDispatcher(store.Logs(), pool, Schedule{}, nil)
	dispatcher.Dispatch("cmp-1")
	dispatcher.Wait()

	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 5*time.Millisecond)
	for _, job := range sender.sent() {
		assert.Equal(t, "cmp-1", job.CampaignID)
	}
}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, Job) error { return q.err }

func TestDispatcher_DispatchNowReportsEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Logs().CreateBatch(ctx, pendingLogs("cmp-1", 2)))

	dispatcher := NewDispatcher(store.Logs(), failingQueue{err: ErrPoolStopped}, DefaultSchedule, nil)
	n, err := dispatcher.DispatchNow(ctx, "cmp-1")

	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrPoolStopped)
}
