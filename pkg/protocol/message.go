// Package protocol defines the WebSocket messages exchanged with rover
// gateways. A gateway sits next to the rover, forwards beacon samples and
// status lines up, and relays drive commands down to the motor controller.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Rover → server messages
	TypeSamples MessageType = "samples" // Beacon ranging samples
	TypeStatus  MessageType = "status"  // Controller status line
	TypeAck     MessageType = "ack"     // Command delivery result

	// Server → rover messages
	TypeCommand MessageType = "command" // Wire drive command

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", msgType, err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Rover → Server
// =============================================================================

// BeaconSample is one ranging observation of a beacon.
type BeaconSample struct {
	Addr     string  `json:"addr"`
	RSSI     int     `json:"rssi"`
	Distance float64 `json:"distance,omitempty"` // meters; derived from RSSI when 0
	TS       int64   `json:"ts,omitempty"`       // sender clock, Unix milliseconds
}

// SamplesData carries a batch of samples.
type SamplesData struct {
	Samples []BeaconSample `json:"samples"`
}

// StatusData is a status line reported by the motor controller.
type StatusData struct {
	Line    string  `json:"line,omitempty"`
	Battery float64 `json:"battery,omitempty"` // volts
}

// AckData reports the outcome of a command.
type AckData struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// =============================================================================
// Server → Rover
// =============================================================================

// CommandData is one wire drive command, e.g. "F:200:2000".
type CommandData struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

// =============================================================================
// Bidirectional
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
