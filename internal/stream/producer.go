package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"minicrm/internal/models"
)

// Producer appends ingestion requests to their streams
type Producer struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewProducer creates a new producer instance
func NewProducer(client redis.Cmdable) *Producer {
	return &Producer{client: client, now: time.Now}
}

// Publish serializes payload with its type tag and submission time and
// returns the id Redis assigned to the entry.
func (p *Producer) Publish(ctx context.Context, stream, msgType string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: []interface{}{
			fieldType, msgType,
			fieldData, string(data),
			fieldTimestamp, strconv.FormatInt(p.now().UnixMilli(), 10),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return id, nil
}

// PublishCustomer queues a customer for creation
func (p *Producer) PublishCustomer(ctx context.Context, customer *models.Customer) (string, error) {
	return p.Publish(ctx, CustomerStream, TypeCreateCustomer, customer)
}

// PublishOrder queues an order for creation
func (p *Producer) PublishOrder(ctx context.Context, order *models.Order) (string, error) {
	return p.Publish(ctx, OrderStream, TypeCreateOrder, order)
}
