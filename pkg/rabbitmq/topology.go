package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"video-restore/config"
)

const (
	exchangeName  = "restoration_exchange"
	queueName     = "restoration_submit_queue"
	routingKey    = "restoration.submit"
	dlxName       = "restoration_exchange_dlx"
	dlqName       = "restoration_submit_queue_dlq"
	dlqRoutingKey = "dlq.restoration.submit"
)

// declareTopology declares the submit exchange and queue together with the
// dead-letter pair that failed deliveries are routed to.
func declareTopology(ch *amqp.Channel, cfg *config.RabbitMQ) error {
	if err := ch.ExchangeDeclare(exchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(dlxName, cfg.Kind, true, false, false, false, nil); err != nil {
		return err
	}

	dlq, err := ch.QueueDeclare(dlqName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(dlq.Name, dlqRoutingKey, dlxName, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, args)
	if err != nil {
		return err
	}
	return ch.QueueBind(q.Name, routingKey, exchangeName, false, nil)
}
