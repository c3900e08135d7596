// Package events publishes settlement outcomes to a message queue. The
// publisher is a fire-and-forget side channel: a broker outage never fails a
// settlement that already committed.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/mabruquaye/cardpay/internal/logging"
)

// Event is the wire shape pushed onto the settlement queue.
type Event struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id"`
	OwnerID       string    `json:"owner_id"`
	CardID        string    `json:"card_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher emits settlement events. Implementations must not block the
// request path.
type Publisher interface {
	Publish(event Event)
	Close() error
}

// Nop discards events; used when no broker is configured and in tests.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

// AMQP publishes events to a named queue over RabbitMQ.
type AMQP struct {
	conn   *amqp.Connection
	queue  string
	logger *logging.Logger
}

func NewAMQP(url, queue string, logger *logging.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: amqp dial: %w", err)
	}

	// Declare once so publishes to a fresh broker do not vanish.
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: amqp channel: %w", err)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: queue declare: %w", err)
	}

	if logger == nil {
		logger = logging.NewNop()
	}
	return &AMQP{conn: conn, queue: queue, logger: logger.Named("events")}, nil
}

func (p *AMQP) Publish(event Event) {
	go func() {
		ch, err := p.conn.Channel()
		if err != nil {
			p.logger.Error("open channel", zap.Error(err))
			return
		}
		defer ch.Close()

		body, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("encode event", zap.Error(err))
			return
		}

		err = ch.Publish("", p.queue, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
		if err != nil {
			p.logger.Error("publish event",
				zap.String("type", event.Type),
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err))
		}
	}()
}

func (p *AMQP) Close() error {
	return p.conn.Close()
}
