package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/pkg/types"
)

// AMQPPublisher publishes events to a durable topic exchange with the event
// kind as routing key.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func toPublishing(ev Event) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Kind),
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"created_at": ev.CreatedAt},
		Body:         ev.Payload,
	}
}

func fromDelivery(d amqp.Delivery) Event {
	kind := d.Type
	if kind == "" {
		kind = d.RoutingKey
	}
	createdAt, _ := d.Headers["created_at"].(string)
	return Event{
		ID:        d.MessageId,
		Kind:      types.EventKind(kind),
		Payload:   d.Body,
		CreatedAt: createdAt,
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		string(ev.Kind), // routing key
		false,           // mandatory
		false,           // immediate
		toPublishing(ev),
	)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.ch.Close(), p.conn.Close())
}

// AMQPSubscriber binds a private queue to the exchange per subscription and
// reconnects with backoff when the broker drops the connection.
type AMQPSubscriber struct {
	URL      string
	Exchange string
	// Queue names a durable shared queue. Empty gives each subscription its own exclusive queue.
	Queue string
	Log   logger.Logger
}

func (s *AMQPSubscriber) Subscribe(ctx context.Context, kinds []types.EventKind, handle Handler) error {
	log := s.Log
	if log == nil {
		log = logger.NewNop()
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(s.URL)
		if err != nil {
			log.Warn("amqp subscriber dial failed", "error", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = s.consume(ctx, conn, kinds, handle, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("amqp consume loop ended; reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *AMQPSubscriber) consume(ctx context.Context, conn *amqp.Connection, kinds []types.EventKind, handle Handler, log logger.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("amqp set QoS failed", "error", err)
	}
	if err := declareExchange(ch, s.Exchange); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	durable, exclusive := s.Queue != "", s.Queue == ""
	q, err := ch.QueueDeclare(s.Queue, durable, !durable, exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	keys := []string{"#"}
	if len(kinds) > 0 {
		keys = keys[:0]
		for _, k := range kinds {
			keys = append(keys, string(k))
		}
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, s.Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(q.Name, "", false, exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handle(ctx, fromDelivery(d)); err != nil {
				log.Warn("event handler failed", "kind", d.Type, "id", d.MessageId, "error", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}
