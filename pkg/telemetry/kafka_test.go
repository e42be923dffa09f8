package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/teslashibe/go-beaconrover/pkg/navigation"
)

type mockWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func (m *mockWriter) Messages() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.msgs...)
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "rover.navigation")
	if err != nil {
		t.Fatalf("NewKafkaPublisher() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPublishEncodesEvent(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher(w)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := navigation.Event{
		Session:  "abc",
		State:    navigation.Turning,
		Move:     &navigation.Move{Direction: navigation.Right, Magnitude: 90},
		Distance: 4,
		Time:     ts,
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs := w.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	msg := msgs[0]
	if string(msg.Key) != "abc" {
		t.Errorf("key = %q", msg.Key)
	}
	if !msg.Time.Equal(ts) {
		t.Errorf("time = %v", msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "TURNING" {
		t.Errorf("headers = %+v", msg.Headers)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value not JSON: %v", err)
	}
	if decoded["state"] != "TURNING" {
		t.Errorf("state = %v", decoded["state"])
	}
	move := decoded["move"].(map[string]any)
	if move["direction"] != "RIGHT" || move["magnitude"] != float64(90) {
		t.Errorf("move = %v", move)
	}

	if published, failed := p.Stats(); published != 1 || failed != 0 {
		t.Errorf("Stats() = %d, %d", published, failed)
	}
}

func TestPublishFailure(t *testing.T) {
	broker := errors.New("leader not available")
	p := newPublisher(&mockWriter{err: broker})

	err := p.Publish(context.Background(), navigation.Event{Session: "s"})
	if !errors.Is(err, broker) {
		t.Errorf("Publish() error = %v, want wrapped broker error", err)
	}
	if _, failed := p.Stats(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestRunDrainsEvents(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher(w)

	events := make(chan navigation.Event, 3)
	events <- navigation.Event{Session: "s", State: navigation.Gathering}
	events <- navigation.Event{Session: "s", State: navigation.Calculating}
	events <- navigation.Event{Session: "s", State: navigation.Idle, Arrived: true}
	close(events)

	if err := p.Run(context.Background(), events); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(w.Messages()); got != 3 {
		t.Errorf("messages = %d, want 3", got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close() error = %v closed = %v", err, w.closed)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newPublisher(&mockWriter{err: errors.New("down")})
	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan navigation.Event, 1)
	events <- navigation.Event{Session: "s"}

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, events) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
