package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Canis/internal/domain"
)

// EventType — тип события.
type EventType string

// Типы событий.
const (
	EventWorkflowStatus EventType = "workflow.status"
	EventStepFinished   EventType = "step.finished"
	EventJobSubmitted   EventType = "job.submitted"
)

// Event — конверт события.
type Event struct {
	// ID — уникальный идентификатор события.
	ID string `json:"id"`

	// Type — тип события.
	Type EventType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowStatusPayload — смена статуса workflow.
type WorkflowStatusPayload struct {
	Workflow string                `json:"workflow"`
	From     domain.WorkflowStatus `json:"from"`
	To       domain.WorkflowStatus `json:"to"`
}

// StepFinishedPayload — шаг достиг финального статуса.
type StepFinishedPayload struct {
	Workflow string                `json:"workflow"`
	StepID   string                `json:"step_id"`
	Kind     domain.StepKind       `json:"kind"`
	Status   domain.StepStatus     `json:"status"`
	Failure  *domain.FailureReason `json:"failure,omitempty"`
}

// JobSubmittedPayload — batch-задание отправлено сервису инференса.
type JobSubmittedPayload struct {
	Workflow string `json:"workflow"`
	StepID   string `json:"step_id"`
	JobID    string `json:"job_id"`
	Requests int    `json:"requests"`
}

// Publisher публикует события движка в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// WorkflowStatus публикует смену статуса workflow.
func (p *Publisher) WorkflowStatus(ctx context.Context, payload WorkflowStatusPayload) error {
	key := routingWorkflowPrefix + strings.ToLower(string(payload.To))
	return p.publish(ctx, key, EventWorkflowStatus, payload)
}

// StepFinished публикует завершение шага.
func (p *Publisher) StepFinished(ctx context.Context, payload StepFinishedPayload) error {
	key := routingStepPrefix + strings.ToLower(string(payload.Status))
	return p.publish(ctx, key, EventStepFinished, payload)
}

// JobSubmitted публикует отправку batch-задания.
func (p *Publisher) JobSubmitted(ctx context.Context, payload JobSubmittedPayload) error {
	return p.publish(ctx, RoutingJobSubmitted, EventJobSubmitted, payload)
}

// publish сериализует конверт и отправляет его в обменник событий.
func (p *Publisher) publish(ctx context.Context, routingKey string, eventType EventType, payload any) error {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch := p.conn.Channel()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	err = ch.PublishWithContext(
		ctx,
		ExchangeEvents,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.logger.Debug("published event",
		"routing_key", routingKey,
		"event_id", event.ID,
		"type", eventType,
	)
	return nil
}
