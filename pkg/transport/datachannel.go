package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-beaconrover/internal/log"
)

// DefaultDataChannelLabel is the label of the command data channel.
const DefaultDataChannelLabel = "rover-commands"

// dataChannel is the subset of *webrtc.DataChannel used by the link.
type dataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

// DataChannelLink sends commands as text messages on a WebRTC data channel.
type DataChannelLink struct {
	dc  dataChannel
	log *slog.Logger

	mu       sync.Mutex
	onStatus StatusHandler
	failed   bool
}

// NewDataChannelLink wraps an existing data channel.
func NewDataChannelLink(dc *webrtc.DataChannel) *DataChannelLink {
	return newDataChannelLink(dc)
}

func newDataChannelLink(dc dataChannel) *DataChannelLink {
	l := &DataChannelLink{
		dc:  dc,
		log: log.Component("datachannel").With("label", dc.Label()),
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		line := strings.TrimSpace(string(msg.Data))
		l.mu.Lock()
		h := l.onStatus
		l.mu.Unlock()
		if h != nil && line != "" {
			h(line)
		}
	})
	return l
}

// CreateDataChannelLink creates the command channel on pc. The link reports
// Connecting until signalling completes and the channel opens.
func CreateDataChannelLink(pc *webrtc.PeerConnection, label string) (*DataChannelLink, error) {
	if label == "" {
		label = DefaultDataChannelLabel
	}
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("transport: create data channel: %w", err)
	}
	l := NewDataChannelLink(dc)
	dc.OnOpen(func() { l.log.Info("data channel open") })
	dc.OnClose(func() { l.log.Info("data channel closed") })
	return l, nil
}

// OnStatus registers a handler for status lines.
func (l *DataChannelLink) OnStatus(h StatusHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStatus = h
}

// State implements Link.
func (l *DataChannelLink) State() ConnState {
	l.mu.Lock()
	failed := l.failed
	l.mu.Unlock()

	switch l.dc.ReadyState() {
	case webrtc.DataChannelStateConnecting:
		return Connecting
	case webrtc.DataChannelStateOpen:
		if failed {
			return Error
		}
		return Connected
	case webrtc.DataChannelStateClosing:
		return Disconnecting
	default:
		return Disconnected
	}
}

// WriteCommand implements Link.
func (l *DataChannelLink) WriteCommand(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Command: string(cmd), Err: err}
	}
	if l.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return &WriteError{Command: string(cmd), Err: ErrNotConnected}
	}
	if err := l.dc.SendText(string(frame(cmd))); err != nil {
		l.mu.Lock()
		l.failed = true
		l.mu.Unlock()
		return &WriteError{Command: string(cmd), Err: err}
	}

	l.mu.Lock()
	l.failed = false
	l.mu.Unlock()
	return nil
}

// Close closes the data channel.
func (l *DataChannelLink) Close() error {
	return l.dc.Close()
}
