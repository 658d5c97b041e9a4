package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/pkg/logger"
	"giu-carpool/pkg/rabbitmq"
)

// RabbitMQEventPublisher implements service.EventPublisher on top of the
// carpool topic exchange. The message's topic doubles as the routing key,
// its partition key travels as the correlation id.
type RabbitMQEventPublisher struct {
	rabbit *rabbitmq.Connection
	log    logger.Logger
}

func NewRabbitMQEventPublisher(rabbit *rabbitmq.Connection, log logger.Logger) *RabbitMQEventPublisher {
	return &RabbitMQEventPublisher{rabbit: rabbit, log: log}
}

func (p *RabbitMQEventPublisher) Publish(ctx context.Context, msg domain.SagaMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Topic(), err)
	}

	if err := p.rabbit.Publish(ctx, rabbitmq.ExchangeCarpool, string(msg.Topic()), msg.PartitionKey(), body); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic(), err)
	}

	p.log.WithFields(logger.LogFields{
		"topic": string(msg.Topic()),
		"key":   msg.PartitionKey(),
	}).Debug("event_published", "Saga message published")
	return nil
}
