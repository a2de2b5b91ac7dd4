package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"minicrm/internal/metrics"
)

// Handler processes one message. A nil error acknowledges the message.
type Handler func(ctx context.Context, msg Message) error

// ConsumerConfig configures a stream consumer
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds how long a read waits for new entries; negative disables blocking
	Block   time.Duration
	Count   int64
	Backoff time.Duration
	// MaxDeliveries moves a failing entry to DeadLetterStream once it has been
	// delivered this many times. Zero keeps failing entries pending forever.
	MaxDeliveries    int64
	DeadLetterStream string
}

func (c *ConsumerConfig) setDefaults() {
	if c.Consumer == "" {
		c.Consumer = "worker-1"
	}
	if c.Block == 0 {
		c.Block = time.Second
	}
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
}

// Consumer reads a stream under a consumer group identity and acknowledges
// entries only after the handler succeeds
type Consumer struct {
	client  redis.Cmdable
	cfg     ConsumerConfig
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// NewConsumer creates a new consumer instance
func NewConsumer(client redis.Cmdable, cfg ConsumerConfig, handler Handler, logger *zap.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Stream == "" || cfg.Group == "" {
		return nil, errors.New("stream and group are required")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if cfg.MaxDeliveries > 0 && cfg.DeadLetterStream == "" {
		return nil, errors.New("dead letter stream is required when max deliveries is set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.setDefaults()

	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(zap.String("stream", cfg.Stream), zap.String("group", cfg.Group), zap.String("consumer", cfg.Consumer)),
	}, nil
}

// EnsureGroup creates the consumer group, creating the stream if needed.
// An existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.cfg.Group, err)
	}
	return nil
}

// Start ensures the group and runs the read loop until Stop or ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("consumer already running")
	}

	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.doneChan = make(chan struct{})
	c.running = true

	go c.run(runCtx, c.doneChan)

	c.logger.Info("stream consumer started")
	return nil
}

// Stop ends the read loop and waits for it to exit. Entries already read but
// not acknowledged stay pending and are redelivered on the next start.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.doneChan
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info("stream consumer stopped")
}

func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Entries delivered to this consumer before a restart are still pending
	if _, err := c.DrainPending(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("failed to read pending entries", zap.Error(err))
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := c.Poll(ctx, ">"); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.StreamReadErrors.WithLabelValues(c.cfg.Stream).Inc()
			c.logger.Error("stream read failed, backing off", zap.Error(err), zap.Duration("backoff", c.cfg.Backoff))

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.Backoff):
			}
		}
	}
}

// DrainPending re-reads every entry still pending for this consumer, one page
// of Count entries at a time, each page starting after the last id seen.
// Entries that fail again stay pending and are not read twice in one drain.
func (c *Consumer) DrainPending(ctx context.Context) (int, error) {
	total := 0
	cursor := "0"
	for ctx.Err() == nil {
		handled, lastID, err := c.read(ctx, cursor)
		total += handled
		if err != nil {
			return total, err
		}
		if lastID == "" {
			return total, nil
		}
		cursor = lastID
	}
	return total, ctx.Err()
}

// Poll performs one group read starting at id (">" for new entries, an entry
// id for this consumer's pending entries after it) and handles what it got.
// Per-entry failures are logged and never returned; only transport errors are.
func (c *Consumer) Poll(ctx context.Context, id string) (int, error) {
	handled, _, err := c.read(ctx, id)
	return handled, err
}

func (c *Consumer) read(ctx context.Context, id string) (int, string, error) {
	block := c.cfg.Block
	if id != ">" {
		block = -1
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read from %s: %w", c.cfg.Stream, err)
	}

	handled := 0
	lastID := ""
	for _, s := range streams {
		for _, entry := range s.Messages {
			c.handle(ctx, entry)
			handled++
			lastID = entry.ID
		}
	}
	return handled, lastID, nil
}

func (c *Consumer) handle(ctx context.Context, entry redis.XMessage) {
	// Trimmed entries come back from a pending read with no fields
	if len(entry.Values) == 0 {
		c.ack(ctx, entry.ID)
		return
	}

	msg, err := decodeMessage(c.cfg.Stream, entry)
	if err == nil {
		err = c.handler(ctx, msg)
	}
	if err == nil {
		if c.ack(ctx, entry.ID) {
			metrics.StreamMessages.WithLabelValues(c.cfg.Stream, "acked").Inc()
		}
		return
	}

	metrics.StreamMessages.WithLabelValues(c.cfg.Stream, "failed").Inc()
	c.logger.Error("failed to process stream entry, leaving it pending",
		zap.String("entry_id", entry.ID),
		zap.String("type", msg.Type),
		zap.Error(err),
	)

	if c.cfg.MaxDeliveries > 0 {
		c.maybeDeadLetter(ctx, entry, err)
	}
}

func (c *Consumer) ack(ctx context.Context, id string) bool {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge stream entry", zap.String("entry_id", id), zap.Error(err))
		return false
	}
	return true
}

// maybeDeadLetter copies an entry that exhausted its deliveries to the dead
// letter stream and acknowledges it on the source stream
func (c *Consumer) maybeDeadLetter(ctx context.Context, entry redis.XMessage, cause error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Start:  entry.ID,
		End:    entry.ID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		if err != nil {
			c.logger.Error("failed to read delivery count", zap.String("entry_id", entry.ID), zap.Error(err))
		}
		return
	}

	if pending[0].RetryCount < c.cfg.MaxDeliveries {
		return
	}

	values := make(map[string]interface{}, len(entry.Values)+3)
	for k, v := range entry.Values {
		values[k] = v
	}
	values["source_stream"] = c.cfg.Stream
	values["source_id"] = entry.ID
	values["error"] = cause.Error()

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.DeadLetterStream, Values: values}).Err(); err != nil {
		c.logger.Error("failed to dead-letter stream entry", zap.String("entry_id", entry.ID), zap.Error(err))
		return
	}

	if c.ack(ctx, entry.ID) {
		metrics.StreamMessages.WithLabelValues(c.cfg.Stream, "dead_lettered").Inc()
		c.logger.Warn("stream entry dead-lettered",
			zap.String("entry_id", entry.ID),
			zap.String("dead_letter_stream", c.cfg.DeadLetterStream),
			zap.Int64("deliveries", pending[0].RetryCount),
		)
	}
}
