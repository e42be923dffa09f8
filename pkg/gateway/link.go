package gateway

import (
	"context"
	"errors"

	"github.com/teslashibe/go-beaconrover/pkg/transport"
)

// ErrRoverNotConnected is returned when addressing an unknown rover.
var ErrRoverNotConnected = errors.New("gateway: rover not connected")

// Link returns the command link for roverID. The rover does not need to be
// connected yet; State reports Disconnected until it dials in.
func (h *Hub) Link(roverID string) transport.Link {
	return &roverLink{hub: h, id: roverID}
}

type roverLink struct {
	hub *Hub
	id  string
}

func (l *roverLink) State() transport.ConnState {
	if l.hub.GetRover(l.id) == nil {
		return transport.Disconnected
	}
	return transport.Connected
}

func (l *roverLink) WriteCommand(ctx context.Context, cmd []byte) error {
	err := l.hub.SendCommand(ctx, l.id, string(cmd))
	if errors.Is(err, ErrRoverNotConnected) {
		err = transport.ErrNotConnected
	}
	if err != nil {
		return &transport.WriteError{Command: string(cmd), Err: err}
	}
	return nil
}
