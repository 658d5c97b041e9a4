package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/internal/ride/service"
	"giu-carpool/pkg/logger"
	"giu-carpool/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SagaConsumer feeds the inbound saga topics into the coordinator.
//
// Ack discipline: a nil handler result (success or terminal business
// failure, already compensated) acks; an error nacks with requeue so the
// broker redelivers; a payload that does not unmarshal nacks without requeue
// and lands on the dead-letter queue.
type SagaConsumer struct {
	rabbit      *rabbitmq.Connection
	coordinator *service.BookingSagaCoordinator
	log         logger.Logger
}

func New(rabbit *rabbitmq.Connection, coordinator *service.BookingSagaCoordinator, log logger.Logger) *SagaConsumer {
	return &SagaConsumer{
		rabbit:      rabbit,
		coordinator: coordinator,
		log:         log,
	}
}

// StartConsuming starts one consumer per inbound topic.
func (c *SagaConsumer) StartConsuming(ctx context.Context) error {
	consume := func(topic domain.Topic, handle func(context.Context, []byte) error) error {
		return c.rabbit.Consume(string(topic), func(msg amqp.Delivery) {
			c.dispatch(ctx, topic, msg, handle)
		})
	}

	if err := consume(domain.TopicBookingCreated, c.handleBookingCreated); err != nil {
		return err
	}
	if err := consume(domain.TopicPaymentSucceeded, c.handlePaymentSucceeded); err != nil {
		return err
	}
	if err := consume(domain.TopicBookingCanceled, c.handleBookingCanceled); err != nil {
		return err
	}
	if err := consume(domain.TopicRideStatusUpdate, c.handleRideStatusUpdate); err != nil {
		return err
	}

	c.log.Info("consumers_started", "All saga consumers started")
	return nil
}

// dispatch isolates one delivery: a panic or error in one message never
// stops the consumer loop.
func (c *SagaConsumer) dispatch(ctx context.Context, topic domain.Topic, msg amqp.Delivery, handle func(context.Context, []byte) error) {
	log := c.log.WithFields(logger.LogFields{
		"topic": string(topic),
		"key":   msg.CorrelationId,
	})

	// A panicking handler is treated like an infrastructure failure: the
	// delivery goes back to the broker.
	defer func() {
		if r := recover(); r != nil {
			log.Error("message_handler_panic", fmt.Errorf("handler panic: %v", r))
			msg.Nack(false, true)
		}
	}()

	if err := handle(ctx, msg.Body); err != nil {
		if malformed, ok := err.(*malformedPayloadError); ok {
			log.Error("message_dead_lettered", malformed)
			msg.Nack(false, false)
			return
		}
		log.Error("message_requeued", err)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// malformedPayloadError marks a contract failure: the delivery is
// dead-lettered instead of retried.
type malformedPayloadError struct {
	cause error
}

func (e *malformedPayloadError) Error() string { return "malformed payload: " + e.cause.Error() }
func (e *malformedPayloadError) Unwrap() error { return e.cause }

func (c *SagaConsumer) handleBookingCreated(ctx context.Context, body []byte) error {
	var msg domain.BookingCreated
	if err := json.Unmarshal(body, &msg); err != nil {
		return &malformedPayloadError{cause: err}
	}
	return c.coordinator.HandleBookingCreated(ctx, msg)
}

func (c *SagaConsumer) handlePaymentSucceeded(ctx context.Context, body []byte) error {
	var msg domain.PaymentSucceeded
	if err := json.Unmarshal(body, &msg); err != nil {
		return &malformedPayloadError{cause: err}
	}
	return c.coordinator.HandlePaymentSucceeded(ctx, msg)
}

func (c *SagaConsumer) handleBookingCanceled(ctx context.Context, body []byte) error {
	var msg domain.BookingCanceled
	if err := json.Unmarshal(body, &msg); err != nil {
		return &malformedPayloadError{cause: err}
	}
	return c.coordinator.HandleBookingCanceled(ctx, msg)
}

func (c *SagaConsumer) handleRideStatusUpdate(ctx context.Context, body []byte) error {
	var msg domain.RideStatusUpdate
	if err := json.Unmarshal(body, &msg); err != nil {
		return &malformedPayloadError{cause: err}
	}
	return c.coordinator.HandleRideStatusUpdate(ctx, msg)
}
