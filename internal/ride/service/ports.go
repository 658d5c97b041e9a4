package service

import (
	"context"
	"time"

	"giu-carpool/internal/ride/domain"
)

// EventPublisher is the outbound port to the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, msg domain.SagaMessage) error
}

// NotificationSink is the outbound port to the notification service. A nil
// error means the sink accepted the batch (2xx).
type NotificationSink interface {
	NotifyRideReminder(ctx context.Context, to []string, subject string, payload map[string]interface{}) error
	NotifyRideUpdate(ctx context.Context, to []string, subject string, payload map[string]interface{}) error
	NotifyCancelRide(ctx context.Context, to []string, subject string, payload map[string]interface{}) error
}

// JobScheduler is the outbound port to the durable delayed-job queue.
// Handlers signal retry-worthiness by returning an error; the queue owns the
// backoff policy.
type JobScheduler interface {
	Enqueue(ctx context.Context, kind string, payload interface{}, delay time.Duration) (int64, error)
	// EnqueueRecurring registers a singleton recurring job. Re-registering
	// an existing kind is a no-op, so it is safe to call on every startup.
	EnqueueRecurring(ctx context.Context, kind string, payload interface{}, interval time.Duration) error
}

// Job kinds owned by this service.
const (
	JobKindRideReminder = "ride-reminder"
	JobKindStatusSweep  = "status-sweep"
)
