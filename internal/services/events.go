package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/libris-hq/apiserver/internal/mq"
)

// Publisher delivers domain events to a message broker. *mq.MQ satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// publishEvent sends the event if a publisher is configured. Failures are
// logged and never fail the calling operation.
func publishEvent(ctx context.Context, publisher Publisher, logger *slog.Logger, channel string, event mq.Event) {
	if publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, attrs, err := event.Encode()
	if err != nil {
		logger.ErrorContext(ctx, "encode event", "type", event.Type, "error", err)
		return
	}
	if _, err := publisher.Publish(ctx, channel, data, attrs); err != nil {
		logger.WarnContext(ctx, "publish event", "channel", channel, "type", event.Type, "error", err)
	}
}
