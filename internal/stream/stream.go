// Package stream carries ingestion requests over Redis Streams consumer groups.
package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream and consumer group names
const (
	CustomerStream = "customer_stream"
	OrderStream    = "order_stream"
	CustomerGroup  = "customer_processors"
	OrderGroup     = "order_processors"
)

// Message types
const (
	TypeCreateCustomer = "CREATE_CUSTOMER"
	TypeCreateOrder    = "CREATE_ORDER"
)

// Field names of a stream entry
const (
	fieldType      = "type"
	fieldData      = "data"
	fieldTimestamp = "timestamp"
)

// Message is a decoded stream entry
type Message struct {
	ID        string
	Stream    string
	Type      string
	Data      json.RawMessage
	Timestamp time.Time
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

func decodeMessage(stream string, entry redis.XMessage) (Message, error) {
	msg := Message{ID: entry.ID, Stream: stream}

	msgType, ok := entry.Values[fieldType].(string)
	if !ok || msgType == "" {
		return msg, fmt.Errorf("entry %s has no type", entry.ID)
	}
	msg.Type = msgType

	data, ok := entry.Values[fieldData].(string)
	if !ok {
		return msg, fmt.Errorf("entry %s has no data", entry.ID)
	}
	msg.Data = json.RawMessage(data)

	if raw, ok := entry.Values[fieldTimestamp].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			msg.Timestamp = time.UnixMilli(ms).UTC()
		}
	}

	return msg, nil
}
