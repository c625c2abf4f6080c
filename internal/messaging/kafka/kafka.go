// Package kafka bridges push events through Kafka for headless clients that sit
// next to the backend instead of holding a socket.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging"
)

// Config configures the Kafka bridge.
type Config struct {
	Brokers   []string
	Topic     string // inbound envelopes pushed by the backend
	EmitTopic string // outbound events such as presence
	GroupID   string
	Logger    *slog.Logger
}

// Transport is a messaging.Transport backed by a Kafka reader and writer.
type Transport struct {
	*messaging.Registry

	reader    *kafkaGo.Reader
	writer    *kafkaGo.Writer
	brokers   []string
	topic     string
	dialer    *kafkaGo.Dialer
	probe     func(ctx context.Context) error
	logger    *slog.Logger
	connected atomic.Bool
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport creates a Kafka transport. Call Run to start consuming.
func NewTransport(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &Transport{
		Registry: messaging.NewRegistry(),
		reader: kafkaGo.NewReader(kafkaGo.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
		writer: &kafkaGo.Writer{
			Addr:     kafkaGo.TCP(cfg.Brokers...),
			Topic:    cfg.EmitTopic,
			Balancer: &kafkaGo.LeastBytes{},
		},
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		dialer:  &kafkaGo.Dialer{Timeout: 10 * time.Second},
		logger:  cfg.Logger.With("transport", "kafka", "topic", cfg.Topic),
	}
	t.probe = t.dialBrokers
	return t
}

// Run consumes inbound envelopes until ctx is done. The transport counts as
// (re)connected as soon as a broker answers for the inbound topic, so presence
// goes out on a quiet topic too.
func (t *Transport) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	retry := func(msg string, err error) error {
		wait := b.NextBackOff()
		t.logger.Error(msg, "in", wait, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			return nil
		}
	}

	for {
		if !t.connected.Load() {
			if err := t.probe(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := retry("Kafka brokers unreachable", err); err != nil {
					return err
				}
				continue
			}
			t.connected.Store(true)
			b.Reset()
			t.logger.Info("Connected to kafka")
			t.NotifyConnect()
		}

		msg, err := t.reader.ReadMessage(ctx)
		if err != nil {
			t.connected.Store(false)
			if ctx.Err() != nil {
				t.logger.Info("Consumer shutting down")
				return ctx.Err()
			}
			if err := retry("Error reading message", err); err != nil {
				return err
			}
			continue
		}
		t.handle(msg)
	}
}

// dialBrokers succeeds once any broker returns the partitions of the inbound topic.
func (t *Transport) dialBrokers(ctx context.Context) error {
	if len(t.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var errs []error
	for _, broker := range t.brokers {
		conn, err := t.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.ReadPartitions(t.topic)
		conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("failed to read partitions from %s: %w", broker, err))
	}
	return errors.Join(errs...)
}

func (t *Transport) handle(msg kafkaGo.Message) {
	var env messaging.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.logger.Warn("Dropping malformed message", "offset", msg.Offset, "err", err)
		return
	}
	// The message key carries the event name when the payload is bare.
	if env.Event == "" {
		env = messaging.Envelope{Event: string(msg.Key), Data: msg.Value}
	}
	if env.Event == "" {
		t.logger.Warn("Dropping message without event name", "offset", msg.Offset)
		return
	}
	t.Dispatch(env.Event, env.Data)
}

// Emit publishes an envelope keyed by the event name.
func (t *Transport) Emit(ctx context.Context, event string, payload any) error {
	env, err := messaging.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := t.writer.WriteMessages(ctx, kafkaGo.Message{Key: []byte(event), Value: value}); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

func (t *Transport) Connected() bool { return t.connected.Load() }

// Close releases the reader and writer.
func (t *Transport) Close() error {
	rerr := t.reader.Close()
	werr := t.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
