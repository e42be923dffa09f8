package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.written))
	for _, w := range f.written {
		out = append(out, string(w))
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHubBroadcast(t *testing.T) {
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	waitFor(t, h.IsRunning)

	conn := newFakeConn()
	client := NewClient(h, conn)
	go client.Run()

	waitFor(t, func() bool { return h.ClientCount() == 1 })

	if err := h.BroadcastJSON(map[string]string{"state": "GATHERING"}); err != nil {
		t.Fatalf("BroadcastJSON() error = %v", err)
	}
	waitFor(t, func() bool { return len(conn.Written()) > 0 })

	if got := conn.Written()[0]; got != `{"state":"GATHERING"}` {
		t.Errorf("written = %s", got)
	}

	conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHubDropsSlowClient(t *testing.T) {
	h := New("slow")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// No pumps and no buffer: the first broadcast cannot be delivered.
	slow := &Client{hub: h, conn: newFakeConn(), send: make(chan Message)}
	h.register <- slow

	h.Broadcast(Message{Data: []byte("x")})
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	if _, ok := <-slow.send; ok {
		t.Error("slow client send channel should be closed")
	}
}

func TestHubStopsOnCancel(t *testing.T) {
	h := New("cancel")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := &Client{hub: h, conn: newFakeConn(), send: make(chan Message, 1)}
	h.register <- c

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if h.IsRunning() {
		t.Error("IsRunning() should be false")
	}
	if _, ok := <-c.send; ok {
		t.Error("client send channel should be closed")
	}
	if err := h.BroadcastJSON(make(chan int)); err == nil {
		t.Error("BroadcastJSON should fail for unmarshalable values")
	}
}
