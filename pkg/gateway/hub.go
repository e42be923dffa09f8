// Package gateway provides the WebSocket hub that rover gateways dial into.
//
// A gateway streams beacon samples and controller status lines up and
// receives wire drive commands down. Each connected rover is exposed to the
// navigation stack as a transport.Link.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/drive"
	"github.com/teslashibe/go-beaconrover/pkg/protocol"
	"github.com/teslashibe/go-beaconrover/pkg/proximity"
)

// apiCommandTimeout bounds a manual command, including its ack.
const apiCommandTimeout = 5 * time.Second

// Sink receives beacon samples from gateways. proximity.Store implements it.
type Sink interface {
	Append(addr string, sample proximity.Sample)
	SetScanning(on bool)
}

// RoverConnection represents a connected rover gateway
type RoverConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time
	Status    string

	mu      sync.Mutex
	pending map[string]chan error
}

// Send sends a message to the rover
func (r *RoverConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Conn.WriteMessage(websocket.TextMessage, data)
}

func (r *RoverConnection) expectAck(id string) chan error {
	ch := make(chan error, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	return ch
}

func (r *RoverConnection) forgetAck(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *RoverConnection) resolveAck(ack *protocol.AckData) {
	r.mu.Lock()
	ch, ok := r.pending[ack.ID]
	delete(r.pending, ack.ID)
	r.mu.Unlock()
	if !ok {
		return
	}
	if ack.OK {
		ch <- nil
		return
	}
	ch <- &AckError{Reason: ack.Error}
}

// AckError is a command rejected by the rover.
type AckError struct {
	Reason string
}

func (e *AckError) Error() string {
	return "gateway: command rejected: " + e.Reason
}

// Option configures a Hub.
type Option func(*Hub)

// WithAcks makes command writes wait for the rover's ack.
func WithAcks() Option {
	return func(h *Hub) { h.acks = true }
}

// Hub manages WebSocket connections from rover gateways
type Hub struct {
	sink Sink
	acks bool
	log  *slog.Logger

	mu       sync.RWMutex
	rovers   map[string]*RoverConnection
	onStatus func(roverID string, status *protocol.StatusData)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	samplesReceived  atomic.Uint64
}

// NewHub creates a hub that feeds samples into sink.
func NewHub(sink Sink, opts ...Option) *Hub {
	h := &Hub{
		sink:   sink,
		rovers: make(map[string]*RoverConnection),
		log:    log.Component("gateway"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnStatus sets the callback for controller status lines
func (h *Hub) OnStatus(callback func(roverID string, status *protocol.StatusData)) {
	h.mu.Lock()
	h.onStatus = callback
	h.mu.Unlock()
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/rover", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/rover", websocket.New(h.handleRover))
	app.Get("/ws/rover/:id", websocket.New(h.handleRover))
}

// handleRover handles a rover WebSocket connection
func (h *Hub) handleRover(c *websocket.Conn) {
	roverID := c.Params("id")
	if roverID == "" {
		roverID = generateRoverID()
	}

	rover := &RoverConnection{
		ID:        roverID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
		pending:   make(map[string]chan error),
	}

	h.mu.Lock()
	h.rovers[roverID] = rover
	roverCount := len(h.rovers)
	h.mu.Unlock()

	h.log.Info("rover connected", "rover", roverID, "total", roverCount)

	defer func() {
		h.mu.Lock()
		if h.rovers[roverID] == rover {
			delete(h.rovers, roverID)
		}
		roverCount := len(h.rovers)
		h.mu.Unlock()

		if roverCount == 0 && h.sink != nil {
			h.sink.SetScanning(false)
		}
		h.log.Info("rover disconnected", "rover", roverID, "total", roverCount)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.log.Debug("rover read error", "rover", roverID, "error", err)
			return
		}

		rover.mu.Lock()
		rover.LastSeen = time.Now()
		rover.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(rover, data)
	}
}

// handleMessage processes an incoming message from a rover
func (h *Hub) handleMessage(rover *RoverConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.log.Warn("parse error", "rover", rover.ID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeSamples:
		samples, err := msg.GetSamplesData()
		if err != nil {
			h.log.Warn("bad samples", "rover", rover.ID, "error", err)
			return
		}
		h.ingest(samples.Samples)

	case protocol.TypeStatus:
		status, err := msg.GetStatusData()
		if err != nil {
			return
		}
		rover.mu.Lock()
		rover.Status = status.Line
		rover.mu.Unlock()

		h.mu.RLock()
		cb := h.onStatus
		h.mu.RUnlock()
		if cb != nil {
			cb(rover.ID, status)
		}

	case protocol.TypeAck:
		if ack, err := msg.GetAckData(); err == nil {
			rover.resolveAck(ack)
		}

	case protocol.TypePing:
		h.SendPong(rover.ID, msg.Timestamp)
	}
}

func (h *Hub) ingest(samples []protocol.BeaconSample) {
	if h.sink == nil || len(samples) == 0 {
		return
	}
	now := time.Now()
	for _, s := range samples {
		if s.Addr == "" {
			continue
		}
		d := s.Distance
		if d <= 0 {
			d = proximity.RSSIToDistance(float64(s.RSSI), proximity.DefaultMeasuredPower, proximity.DefaultPathLossExp)
		}
		h.sink.Append(s.Addr, proximity.Sample{RSSI: s.RSSI, Distance: d, CapturedAt: now, ReportedAt: s.ReportedAt()})
	}
	h.sink.SetScanning(true)
	h.samplesReceived.Add(uint64(len(samples)))
}

// SendCommand sends a wire command to a rover and, with acks enabled,
// waits for the rover to confirm it.
func (h *Hub) SendCommand(ctx context.Context, roverID string, command string) error {
	h.mu.RLock()
	rover, ok := h.rovers[roverID]
	h.mu.RUnlock()
	if !ok {
		return ErrRoverNotConnected
	}

	id := uuid.NewString()
	msg, err := protocol.NewCommandMessage(id, command)
	if err != nil {
		return err
	}

	var ack chan error
	if h.acks {
		ack = rover.expectAck(id)
		defer rover.forgetAck(id)
	}

	h.messagesSent.Add(1)
	if err := rover.Send(msg); err != nil {
		return err
	}
	if ack == nil {
		return nil
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendPong sends a pong response to a rover
func (h *Hub) SendPong(roverID string, pingTS int64) error {
	msg, err := protocol.NewPongMessage("", pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendToRover(roverID, msg)
}

// sendToRover sends a message to a specific rover
func (h *Hub) sendToRover(roverID string, msg *protocol.Message) error {
	h.mu.RLock()
	rover, ok := h.rovers[roverID]
	h.mu.RUnlock()

	if !ok {
		return ErrRoverNotConnected
	}

	h.messagesSent.Add(1)
	return rover.Send(msg)
}

// GetRover returns a rover connection by ID
func (h *Hub) GetRover(roverID string) *RoverConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rovers[roverID]
}

// RoverCount returns the number of connected rovers
func (h *Hub) RoverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rovers)
}

// Stats contains hub statistics
type Stats struct {
	RoverCount       int    `json:"rover_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	SamplesReceived  uint64 `json:"samples_received"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		RoverCount:       h.RoverCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		SamplesReceived:  h.samplesReceived.Load(),
	}
}

// RoverInfo contains info about a connected rover
type RoverInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Status    string    `json:"status,omitempty"`
}

// GetRoverInfos returns info about all connected rovers
func (h *Hub) GetRoverInfos() []RoverInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]RoverInfo, 0, len(h.rovers))
	for _, r := range h.rovers {
		r.mu.Lock()
		infos = append(infos, RoverInfo{
			ID:        r.ID,
			Connected: r.Connected,
			LastSeen:  r.LastSeen,
			Status:    r.Status,
		})
		r.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for rover management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	rovers := api.Group("/rovers")

	rovers.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"rovers": h.GetRoverInfos(),
			"count":  h.RoverCount(),
		})
	})

	rovers.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	// Manual drive command, validated against the firmware grammar.
	rovers.Post("/:id/command", func(c *fiber.Ctx) error {
		var req struct {
			Command string `json:"command"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		cmd, err := drive.ParseCommand(req.Command)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), apiCommandTimeout)
		defer cancel()
		if err := h.SendCommand(ctx, c.Params("id"), cmd.String()); err != nil {
			status := fiber.StatusInternalServerError
			if errors.Is(err, ErrRoverNotConnected) {
				status = fiber.StatusNotFound
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "sent", "command": cmd.String()})
	})
}

// generateRoverID generates a unique rover ID
func generateRoverID() string {
	return uuid.NewString()
}
