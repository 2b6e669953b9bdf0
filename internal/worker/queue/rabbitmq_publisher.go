package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// EventPublisher announces evaluation outcomes to downstream consumers.
type EventPublisher interface {
	PublishCompleted(ctx context.Context, event models.EvaluationCompletedEvent) error
	PublishFailed(ctx context.Context, event models.EvaluationFailedEvent) error
	Close() error
}

// amqpPublisher is the part of *amqp.Channel the publisher needs.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type rabbitMQPublisher struct {
	channel  amqpPublisher
	exchange string
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewRabbitMQPublisher(channel *amqp.Channel, exchange string, logger zerolog.Logger) EventPublisher {
	return newRabbitMQPublisher(channel, exchange, logger)
}

func newRabbitMQPublisher(channel amqpPublisher, exchange string, logger zerolog.Logger) *rabbitMQPublisher {
	return &rabbitMQPublisher{
		channel:  channel,
		exchange: exchange,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

func (p *rabbitMQPublisher) PublishCompleted(ctx context.Context, event models.EvaluationCompletedEvent) error {
	return p.publishJSON(ctx, models.RoutingKeyEvaluationCompleted, event)
}

func (p *rabbitMQPublisher) PublishFailed(ctx context.Context, event models.EvaluationFailedEvent) error {
	return p.publishJSON(ctx, models.RoutingKeyEvaluationFailed, event)
}

func (p *rabbitMQPublisher) publishJSON(ctx context.Context, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		publishCtx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}

	p.logger.Debug().
		Str("exchange", p.exchange).
		Str("routing_key", routingKey).
		Msg("Event published")

	return nil
}

func (p *rabbitMQPublisher) Close() error {
	// The channel belongs to the connection owner.
	p.logger.Info().Msg("RabbitMQ publisher closed")
	return nil
}
