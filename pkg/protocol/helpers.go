package protocol

import "time"

// NewSamplesMessage creates a samples message
func NewSamplesMessage(samples ...BeaconSample) (*Message, error) {
	return NewMessage(TypeSamples, SamplesData{Samples: samples})
}

// NewStatusMessage creates a status message
func NewStatusMessage(line string, battery float64) (*Message, error) {
	return NewMessage(TypeStatus, StatusData{Line: line, Battery: battery})
}

// NewAckMessage creates an ack for command id
func NewAckMessage(id string, err error) (*Message, error) {
	ack := AckData{ID: id, OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	return NewMessage(TypeAck, ack)
}

// NewCommandMessage creates a command message
func NewCommandMessage(id, command string) (*Message, error) {
	return NewMessage(TypeCommand, CommandData{ID: id, Command: command})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetSamplesData extracts samples from a message
func (m *Message) GetSamplesData() (*SamplesData, error) {
	var data SamplesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStatusData extracts a status line from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAckData extracts an ack from a message
func (m *Message) GetAckData() (*AckData, error) {
	var data AckData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCommandData extracts a command from a message
func (m *Message) GetCommandData() (*CommandData, error) {
	var data CommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ReportedAt returns the sender's own timestamp, or the zero time when unset.
// The sender's clock is not synchronised with ours, so it is informational.
func (s BeaconSample) ReportedAt() time.Time {
	if s.TS <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.TS)
}
