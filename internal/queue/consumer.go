package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"minicrm/internal/dispatch"
)

const defaultResubscribeDelay = 2 * time.Second

// Consumer consumes dispatch jobs from RabbitMQ and hands them to a local queue
type Consumer struct {
	conn      *Connection
	queueName string
	prefetch  int
	jobs      dispatch.JobQueue
	logger    *zap.Logger

	// subscribe opens a delivery stream; it goes through the connection's
	// reconnect path so a dropped channel is replaced
	subscribe        func() (<-chan amqp.Delivery, error)
	resubscribeDelay time.Duration

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewConsumer creates a new consumer instance. prefetch bounds how many
// unacknowledged jobs RabbitMQ delivers at once.
func NewConsumer(conn *Connection, queueName string, prefetch int, jobs dispatch.JobQueue, logger *zap.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if jobs == nil {
		return nil, errors.New("job queue cannot be nil")
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := declareQueue(conn, queueName); err != nil {
		return nil, err
	}

	c := &Consumer{
		conn:             conn,
		queueName:        queueName,
		prefetch:         prefetch,
		jobs:             jobs,
		logger:           logger.With(zap.String("queue", queueName)),
		resubscribeDelay: defaultResubscribeDelay,
	}
	c.subscribe = c.consume
	return c, nil
}

// Start starts consuming jobs from the queue
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("consumer already started")
	}

	deliveries, err := c.subscribe()
	if err != nil {
		return err
	}

	c.started = true
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	go c.run(deliveries, c.stopChan, c.doneChan)

	c.logger.Info("dispatch consumer started", zap.Int("prefetch", c.prefetch))
	return nil
}

// Stop stops consuming jobs gracefully. The consumer can be started again.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stop, done := c.stopChan, c.doneChan
	c.mu.Unlock()

	close(stop)
	<-done
	c.logger.Info("dispatch consumer stopped")
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) run(deliveries <-chan amqp.Delivery, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case d, ok := <-deliveries:
			if ok {
				c.handle(ctx, d)
				continue
			}
			c.logger.Warn("dispatch delivery channel closed, resubscribing")
			if deliveries = c.resubscribe(stop); deliveries == nil {
				return
			}
		}
	}
}

// resubscribe retries subscribe until it succeeds or stop is closed, in
// which case it returns nil
func (c *Consumer) resubscribe(stop <-chan struct{}) <-chan amqp.Delivery {
	for {
		select {
		case <-stop:
			return nil
		case <-time.After(c.resubscribeDelay):
		}

		deliveries, err := c.subscribe()
		if err == nil {
			c.logger.Info("dispatch consumer resubscribed")
			return deliveries
		}
		c.logger.Error("failed to resubscribe dispatch consumer", zap.Error(err), zap.Duration("retry_in", c.resubscribeDelay))
	}
}

// handle acks a job once the local queue accepted it. Undecodable jobs are
// dropped; jobs the local queue refused are requeued.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		c.logger.Error("dropping malformed dispatch job", zap.String("amqp_message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := c.jobs.Enqueue(ctx, job); err != nil {
		c.logger.Warn("failed to hand off dispatch job, requeueing",
			zap.String("message_id", job.MessageID),
			zap.Error(err),
		)
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
}

func decodeJob(body []byte) (dispatch.Job, error) {
	var job dispatch.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("failed to unmarshal dispatch job: %w", err)
	}
	if job.MessageID == "" || job.CampaignID == "" {
		return job, errors.New("dispatch job is missing message or campaign id")
	}
	return job, nil
}
