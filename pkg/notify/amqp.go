package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/survarium-stats/importer/pkg/logger"
)

// Channel is the part of *amqp.Channel the notifier publishes through.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel with the exchange already declared.
type Dialer func() (Channel, error)

// ErrRedialBackoff is returned while a failed broker dial is cooling down.
var ErrRedialBackoff = errors.New("amqp redial backoff")

// AMQPNotifier publishes events to a topic exchange under "import.<type>".
// A failed publish drops the channel so the next event redials; a failed
// dial is not retried until the backoff has passed.
type AMQPNotifier struct {
	exchange string
	dial     Dialer
	backoff  time.Duration
	now      func() time.Time
	logger   *logger.Logger

	mu       sync.Mutex
	channel  Channel
	nextDial time.Time
}

func NewAMQPNotifier(exchange string, dial Dialer) *AMQPNotifier {
	return &AMQPNotifier{
		exchange: exchange,
		dial:     dial,
		backoff:  30 * time.Second,
		now:      time.Now,
		logger:   logger.New("notify-amqp"),
	}
}

// DialAMQP connects to the broker and declares a durable topic exchange.
func DialAMQP(url, exchange string) Dialer {
	return func() (Channel, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat: 30 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(5 * time.Second),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
		}

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to create channel: %w", err)
		}

		err = ch.ExchangeDeclare(
			exchange,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}

		return &connChannel{Channel: ch, conn: conn}, nil
	}
}

type connChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c *connChannel) Close() error {
	_ = c.Channel.Close()
	return c.conn.Close()
}

func (n *AMQPNotifier) Notify(_ context.Context, event Event) {
	if err := n.publish(event); err != nil {
		n.logger.Warn().
			Err(err).
			Str("action", "amqp_publish_failed").
			Str("event_type", string(event.Type)).
			Msg("Failed to publish status event")
	}
}

func (n *AMQPNotifier) publish(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel == nil {
		if n.now().Before(n.nextDial) {
			return ErrRedialBackoff
		}
		ch, err := n.dial()
		if err != nil {
			n.nextDial = n.now().Add(n.backoff)
			return err
		}
		n.channel = ch
	}

	err = n.channel.Publish(n.exchange, "import."+string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		_ = n.channel.Close()
		n.channel = nil
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close releases the broker connection, if one is open.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel == nil {
		return nil
	}
	err := n.channel.Close()
	n.channel = nil
	return err
}
