// Package telemetry exports navigation events to Kafka so sessions can be
// replayed and analysed off-board.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/navigation"
)

// DefaultWriteTimeout bounds a single publish.
const DefaultWriteTimeout = 3 * time.Second

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes navigation events to a topic, keyed by session so a
// session's events stay ordered within one partition.
type KafkaPublisher struct {
	w       messageWriter
	log     *slog.Logger
	timeout time.Duration

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("telemetry: no brokers")
	}
	if topic == "" {
		return nil, errors.New("telemetry: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	p := newPublisher(w)
	p.log = p.log.With("topic", topic)
	return p, nil
}

func newPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{
		w:       w,
		log:     log.Component("telemetry"),
		timeout: DefaultWriteTimeout,
	}
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev navigation.Event) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("telemetry: publish: %w", err)
	}
	p.published.Add(1)
	return nil
}

// Run publishes events until ctx is cancelled or events is closed. Failed
// writes are logged and skipped.
func (p *KafkaPublisher) Run(ctx context.Context, events <-chan navigation.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.log.Warn("event dropped", "session", ev.Session, "state", ev.State.String(), "error", err)
			}
		}
	}
}

// Stats returns published and failed counts.
func (p *KafkaPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func encode(ev navigation.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("telemetry: encode: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Session),
		Value: value,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "state", Value: []byte(ev.State.String())},
		},
	}, nil
}
