package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"studynotify/pkg/logx"
)

type AMQPConfig struct {
	URL      string
	Exchange string
	// Prefix selects which bus events are forwarded.
	Prefix string
	Buffer int
}

func (c AMQPConfig) withDefaults() AMQPConfig {
	if c.Exchange == "" {
		c.Exchange = "studynotify.events"
	}
	if c.Prefix == "" {
		c.Prefix = "delivery."
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

// AMQPForwarder republishes bus events to a RabbitMQ topic exchange. The
// event type is the routing key.
type AMQPForwarder struct {
	cfg AMQPConfig
	bus Bus
	log logx.Logger
}

func NewAMQPForwarder(cfg AMQPConfig, bus Bus, log logx.Logger) *AMQPForwarder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AMQPForwarder{cfg: cfg.withDefaults(), bus: bus, log: log.With(logx.String("comp", "amqp"))}
}

// Run forwards events until ctx is done or the broker connection drops. It
// returns an error on connection loss so a supervisor can restart it.
func (f *AMQPForwarder) Run(ctx context.Context) error {
	if strings.TrimSpace(f.cfg.URL) == "" {
		return errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(f.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(f.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp exchange declare: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	events, unsub := SubscribePrefix(f.bus, f.cfg.Buffer, f.cfg.Prefix)
	defer unsub()

	f.log.Info("forwarding events", logx.String("exchange", f.cfg.Exchange), logx.String("prefix", f.cfg.Prefix))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return errors.New("amqp connection closed")
			}
			return fmt.Errorf("amqp connection closed: %w", amqpErr)
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(e.Type, f.cfg.Prefix) {
				continue
			}
			msg, err := publishing(e)
			if err != nil {
				f.log.Warn("event not serializable", logx.String("type", e.Type), logx.Err(err))
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = ch.PublishWithContext(pctx, f.cfg.Exchange, e.Type, false, false, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("amqp publish: %w", err)
			}
		}
	}
}

func publishing(e Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Time,
		Type:         e.Type,
		Body:         body,
	}, nil
}
