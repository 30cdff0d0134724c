package amqpqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"upscaleworker/internal/core/domain"
	"upscaleworker/internal/core/ports"
)

const publishTimeout = 5 * time.Second

// Reply is published to a delivery's ReplyTo queue once its job finishes.
type Reply struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output *domain.Result `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// channel is the part of *amqp.Channel the consumer uses after setup.
type channel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer runs jobs received from a durable queue, one delivery at a time.
type Consumer struct {
	ch        channel
	queueName string
	jobs      ports.JobService
	logger    *log.Logger
}

// NewConsumer declares queueName on ch and returns a consumer for it.
func NewConsumer(ch *amqp.Channel, queueName string, jobs ports.JobService, logger *log.Logger) (*Consumer, error) {
	if _, err := NewQueue(ch, queueName); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queueName: queueName, jobs: jobs, logger: logger}, nil
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	c.logger.Printf("[%s] waiting for jobs", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	reply := c.process(ctx, d)

	if d.ReplyTo != "" {
		if err := c.publishReply(ctx, d, reply); err != nil {
			c.logger.Printf("[%s] failed to publish reply for %s: %v", c.queueName, reply.ID, err)
		}
	}

	if reply.Status == statusFailed {
		// The pipeline is one-shot; a failed job is not redelivered.
		if err := d.Nack(false, false); err != nil {
			c.logger.Printf("[%s] nack failed: %v", c.queueName, err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Printf("[%s] ack failed: %v", c.queueName, err)
	}
}

const (
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
)

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) Reply {
	env, err := DecodeEnvelope(d.Body)
	id := d.CorrelationId
	if env != nil && env.ID != "" {
		id = env.ID
	}
	if id == "" {
		id = d.MessageId
	}
	if err != nil {
		c.logger.Printf("[%s] rejected message %s: %v", c.queueName, id, err)
		return Reply{ID: id, Status: statusFailed, Error: err.Error()}
	}

	result, err := c.jobs.RunJob(ctx, *env.Input)
	if err != nil {
		c.logger.Printf("[%s] job %s failed: %v", c.queueName, id, err)
		return Reply{ID: id, Status: statusFailed, Error: err.Error()}
	}
	return Reply{ID: id, Status: statusCompleted, Output: result}
}

func (c *Consumer) publishReply(ctx context.Context, d amqp.Delivery, reply Reply) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to serialize reply: %w", err)
	}
	return c.ch.PublishWithContext(ctx,
		"",
		d.ReplyTo,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          body,
		})
}

// DecodeEnvelope parses a delivery body of the form {"input": {...}}.
func DecodeEnvelope(body []byte) (*domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to parse message: %v", domain.ErrInput, err)
	}
	if env.Input == nil {
		return &env, fmt.Errorf("%w: input is required", domain.ErrInput)
	}
	return &env, nil
}
