// Package events publishes extracted-product events to a Redis stream so
// downstream consumers can react without polling output files.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const EventTypeProductExtracted = "PRODUCT_EXTRACTED"

// ProductExtractedPayload is the wire form of one extraction event.
type ProductExtractedPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Sitename  string    `json:"sitename"`
	Category  string    `json:"category"`
	ProductID string    `json:"product_id"`
	URL       string    `json:"url"`
	Date      string    `json:"date"`
	Rows      int       `json:"rows"`
}

// Publisher appends events to one stream. A nil Publisher is a no-op, so
// callers need no enabled checks.
type Publisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewPublisher(addr, stream string, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Publisher{
		client: client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}, nil
}

// PublishProductExtracted appends one event. Failures are returned, not
// fatal: the caller logs and continues, the rows are already durable.
func (p *Publisher) PublishProductExtracted(ctx context.Context, payload *ProductExtractedPayload) error {
	if p == nil {
		return nil
	}

	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = EventTypeProductExtracted
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_type": payload.EventType,
			"payload":    string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	p.logger.Debug("event published",
		"stream", p.stream, "product_id", payload.ProductID)
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
