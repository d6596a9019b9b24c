package events

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeEvents — topic-обменник всех событий движка.
const ExchangeEvents = "canis.events"

// QueueAudit — очередь полного потока событий для аудита.
const QueueAudit = "events.audit"

// Routing keys.
const (
	// RoutingJobSubmitted — отправка batch-задания.
	RoutingJobSubmitted = "job.submitted"

	// routingWorkflowPrefix + строчный статус: workflow.completed и т.д.
	routingWorkflowPrefix = "workflow."

	// routingStepPrefix + строчный статус: step.failed и т.д.
	routingStepPrefix = "step."
)

// SetupTopology объявляет обменник и очередь аудита.
// Идемпотентна: повторное объявление одинаковых сущностей безопасно.
func SetupTopology(conn *Connection) error {
	ch := conn.Channel()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	err := ch.ExchangeDeclare(
		ExchangeEvents, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		amqp.Table(nil), // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
	}

	_, err = ch.QueueDeclare(
		QueueAudit, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		amqp.Table(nil), // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueAudit, err)
	}

	if err := ch.QueueBind(QueueAudit, "#", ExchangeEvents, false, amqp.Table(nil)); err != nil {
		return fmt.Errorf("bind queue %s: %w", QueueAudit, err)
	}

	return nil
}
