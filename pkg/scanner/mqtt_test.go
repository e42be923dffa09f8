package scanner

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-beaconrover/pkg/proximity"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeToken struct {
	err     error
	pending bool // never completes
	done    chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient implements only Subscribe; other methods panic via the nil
// embedded interface.
type fakeClient struct {
	mqtt.Client
	err     error
	pending bool
	topics  []string
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.topics = append(c.topics, topic)
	tok := newFakeToken(c.err)
	tok.pending = c.pending
	return tok
}

type recordingSink struct {
	mu       sync.Mutex
	samples  map[string][]proximity.Sample
	scanning bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{samples: make(map[string][]proximity.Sample)}
}

func (s *recordingSink) Append(addr string, sample proximity.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[addr] = append(s.samples[addr], sample)
}

func (s *recordingSink) SetScanning(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = on
}

func newTestSource(t *testing.T, sink Sink) *MQTTSource {
	t.Helper()
	src, err := NewMQTTSource(DefaultConfig(), sink)
	if err != nil {
		t.Fatalf("NewMQTTSource() error = %v", err)
	}
	src.now = func() time.Time { return time.UnixMilli(5000) }
	return src
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no broker", func(c *Config) { c.Broker = "" }, true},
		{"no prefix", func(c *Config) { c.TopicPrefix = " " }, true},
		{"bad qos", func(c *Config) { c.QoS = 3 }, true},
		{"bad exponent", func(c *Config) { c.PathLossExp = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigTopic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopicPrefix = "site/beacons/"
	if got := cfg.Topic(); got != "site/beacons/+" {
		t.Errorf("Topic() = %q", got)
	}
}

func TestHandleMessages(t *testing.T) {
	sink := newRecordingSink()
	src := newTestSource(t, sink)

	src.handle(nil, &fakeMessage{
		topic:   "beacons/fd:a5:06:93:a4:e2",
		payload: []byte(`{"addr":"fd:a5:06:93:a4:e2","rssi":-61,"distance":1.25,"ts":1700000000000}`),
	})
	// Address from the topic, distance from RSSI, time from the clock.
	src.handle(nil, &fakeMessage{
		topic:   "beacons/fd:a5:06:93:a4:e2",
		payload: []byte(`{"rssi":-79}`),
	})

	got := sink.samples["FD:A5:06:93:A4:E2"]
	if len(got) != 2 {
		t.Fatalf("samples = %+v, want 2", sink.samples)
	}
	if got[0].Distance != 1.25 || got[0].RSSI != -61 {
		t.Errorf("first = %+v", got[0])
	}
	if !got[0].CapturedAt.Equal(time.UnixMilli(5000)) {
		t.Errorf("first captured at %v, want the local clock", got[0].CapturedAt)
	}
	if !got[0].ReportedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("first reported at %v", got[0].ReportedAt)
	}
	if math.Abs(got[1].Distance-10) > 1e-9 {
		t.Errorf("derived distance = %v, want 10", got[1].Distance)
	}
	if !got[1].CapturedAt.Equal(time.UnixMilli(5000)) {
		t.Errorf("second captured at %v", got[1].CapturedAt)
	}
	if !got[1].ReportedAt.IsZero() {
		t.Errorf("second reported at %v, want zero", got[1].ReportedAt)
	}
}

func TestHandleIgnoresSenderClockSkew(t *testing.T) {
	store := proximity.NewStore(proximity.HistoryCapacity)
	src := newTestSource(t, store)
	local := time.UnixMilli(1700000000000)
	src.now = func() time.Time { return local }

	// A sensor running 2s fast sends before the window opens, one running
	// 2s slow sends after it.
	src.handle(nil, &fakeMessage{
		topic:   "beacons/aa",
		payload: []byte(fmt.Sprintf(`{"rssi":-60,"distance":3,"ts":%d}`, local.Add(2*time.Second).UnixMilli())),
	})
	windowStart := local.Add(500 * time.Millisecond)
	local = local.Add(time.Second)
	src.handle(nil, &fakeMessage{
		topic:   "beacons/aa",
		payload: []byte(fmt.Sprintf(`{"rssi":-60,"distance":1,"ts":%d}`, local.Add(-2*time.Second).UnixMilli())),
	})

	got := store.SamplesSince("AA", windowStart)
	if len(got) != 1 || got[0].Distance != 1 {
		t.Fatalf("samples since window start = %+v, want only the later one", got)
	}
}

func TestHandleDropsInvalid(t *testing.T) {
	sink := newRecordingSink()
	src := newTestSource(t, sink)

	payloads := []struct {
		topic   string
		payload string
	}{
		{"beacons/aa", `not json`},
		{"beacons/aa", `{"rssi":0}`},
		{"beacons/+", `{"rssi":-70}`},
	}
	for _, p := range payloads {
		src.handle(nil, &fakeMessage{topic: p.topic, payload: []byte(p.payload)})
	}

	if len(sink.samples) != 0 {
		t.Errorf("samples = %+v, want none", sink.samples)
	}

	_, _, err := src.decode("beacons/aa", []byte(`{`))
	if !errors.Is(err, ErrInvalidSample) {
		t.Errorf("decode() error = %v, want ErrInvalidSample", err)
	}
}

func TestConnectionCallbacks(t *testing.T) {
	sink := newRecordingSink()
	src := newTestSource(t, sink)

	client := &fakeClient{}
	src.onConnect(client)
	if len(client.topics) != 1 || client.topics[0] != "beacons/+" {
		t.Errorf("subscribed = %v", client.topics)
	}
	if !sink.scanning {
		t.Error("scanning should be true after subscribe")
	}

	src.onConnectionLost(client, errors.New("eof"))
	if sink.scanning {
		t.Error("scanning should be false after connection loss")
	}

	failing := &fakeClient{err: errors.New("not authorized")}
	src.onConnect(failing)
	if sink.scanning {
		t.Error("scanning should stay false when subscribe fails")
	}

	// An unconfirmed subscription is not scanning either.
	stuck := &fakeClient{pending: true}
	src.onConnect(stuck)
	if len(stuck.topics) != 1 {
		t.Errorf("subscribed = %v", stuck.topics)
	}
	if sink.scanning {
		t.Error("scanning should stay false when subscribe times out")
	}
}

func TestStoreAsSink(t *testing.T) {
	store := proximity.NewStore(proximity.HistoryCapacity)
	src := newTestSource(t, store)

	src.handle(nil, &fakeMessage{topic: "beacons/x", payload: []byte(`{"addr":"ab:cd","rssi":-59}`)})

	latest, ok := store.Latest("AB:CD")
	if !ok {
		t.Fatal("expected a sample in the store")
	}
	if math.Abs(latest.Distance-1) > 1e-9 {
		t.Errorf("distance = %v, want 1", latest.Distance)
	}
}
