// Package events publishes lifecycle notifications after a transition has
// committed. Publishing is best effort: the database row and its RequestEvent
// are the record of truth, a lost message never rolls anything back.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DefaultQueue receives every lifecycle event.
const DefaultQueue = "certificates.lifecycle"

// Event is the message body published for each committed transition.
type Event struct {
	Type          string    `json:"type"`
	RequestID     string    `json:"request_id"`
	CertificateID string    `json:"certificate_id,omitempty"`
	Status        string    `json:"status"`
	ActorID       string    `json:"actor_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// AMQPPublisher publishes JSON events to a durable RabbitMQ queue.
type AMQPPublisher struct {
	URL   string
	Queue string
}

// NewPublisher returns an AMQPPublisher for url, or Nop when url is empty.
func NewPublisher(url string) Publisher {
	if url == "" {
		return Nop{}
	}
	return &AMQPPublisher{URL: url, Queue: DefaultQueue}
}

// Publish dials, declares the queue and publishes one persistent message.
// Lifecycle events are low volume so a connection per message is acceptable.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", p.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		MessageId:    e.RequestID + ":" + e.Type,
		Type:         e.Type,
		Body:         body,
	})
}

// Ping dials the broker to check it is reachable.
func (p *AMQPPublisher) Ping() error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Emit publishes e and logs, never returns, a failure.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", e.Type).Str("request_id", e.RequestID).Msg("event publish failed")
	}
}

// Memory keeps published events in order; useful in tests and local runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the Type of every recorded event in order.
func (m *Memory) Types() []string {
	evs := m.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
