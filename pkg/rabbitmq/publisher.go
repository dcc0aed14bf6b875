package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"video-restore/config"
	"video-restore/dto"
)

// Publisher hands submission tasks to the broker; a Consumer picks them up.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareTopology(ch, cfg); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(dto.SubmissionMessage{JobId: jobID})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Body:         body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", jobID).Msg("failed to publish submission")
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
