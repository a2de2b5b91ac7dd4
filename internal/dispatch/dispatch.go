// Package dispatch schedules a campaign's pending messages for delivery to the
// vendor with staggered timing and bounded concurrency.
package dispatch

import (
	"context"
	"math/rand/v2"
	"time"

	"minicrm/internal/models"
)

// Job is one scheduled vendor send
type Job struct {
	MessageID     string    `json:"messageId"`
	CampaignID    string    `json:"campaignId"`
	CustomerID    string    `json:"customerId"`
	CustomerEmail string    `json:"customerEmail"`
	Message       string    `json:"message"`
	NotBefore     time.Time `json:"notBefore"`
}

// Sender delivers a job to the vendor gateway
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// JobQueue accepts jobs for asynchronous execution
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Schedule spaces sends of one campaign
type Schedule struct {
	Interval  time.Duration
	MaxJitter time.Duration
}

// DefaultSchedule sends one message every 500ms plus up to a second of jitter
var DefaultSchedule = Schedule{Interval: 500 * time.Millisecond, MaxJitter: time.Second}

// Plan turns pending logs into jobs. Job i is due at start + i*Interval plus a
// random jitter in [0, MaxJitter).
func Plan(logs []*models.CommunicationLog, start time.Time, schedule Schedule, jitter func(time.Duration) time.Duration) []Job {
	if jitter == nil {
		jitter = randomJitter
	}

	jobs := make([]Job, 0, len(logs))
	for i, log := range logs {
		jobs = append(jobs, Job{
			MessageID:     log.MessageID,
			CampaignID:    log.CampaignID,
			CustomerID:    log.CustomerID,
			CustomerEmail: log.CustomerEmail,
			Message:       log.Message,
			NotBefore:     start.Add(time.Duration(i)*schedule.Interval + jitter(schedule.MaxJitter)),
		})
	}
	return jobs
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
