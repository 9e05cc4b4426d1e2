package broker

import (
	"context"
	"encoding/json"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Publisher delivers one notification event to the notification service
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// EventPublisher publishes notification events through Kafka
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func (ep *EventPublisher) Publish(ctx context.Context, event models.Event) error {
	return ep.producer.PublishEvent(ctx, event.PartitionKey(), event.Meta().EventType, event)
}

// LogPublisher writes events to the log instead of a broker. Used in
// development when no Kafka brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: util.GetLogger()}
}

func (lp *LogPublisher) Publish(_ context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	meta := event.Meta()
	lp.logger.Info("notification event",
		zap.String("event_id", meta.EventID),
		zap.String("event_type", meta.EventType),
		zap.String("key", event.PartitionKey()),
		zap.ByteString("payload", payload),
	)
	return nil
}
