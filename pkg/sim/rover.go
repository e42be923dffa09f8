// Package sim provides a simulated rover and beacon field so the control
// loop can run end to end without hardware.
//
// The Rover is a transport.Link that parses firmware commands and
// integrates them into a 2D pose. The Field observes that pose and emits
// noisy ranging samples, with occasional multipath outliers, into a sink.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/drive"
	"github.com/teslashibe/go-beaconrover/pkg/transport"
)

// Pose is the rover position in field units and heading in degrees,
// counter-clockwise from +X.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.2f, %.2f) @ %.0f°", p.X, p.Y, p.Heading)
}

// Rover is a simulated vehicle behind a command link.
type Rover struct {
	profile drive.Profile
	log     *slog.Logger

	mu       sync.Mutex
	pose     Pose
	state    transport.ConnState
	commands []drive.Command
	onStatus transport.StatusHandler
}

var _ transport.Link = (*Rover)(nil)

// NewRover creates a connected rover at start that decodes command values
// with profile.
func NewRover(profile drive.Profile, start Pose) *Rover {
	return &Rover{
		profile: profile,
		log:     log.Component("sim").With("profile", profile.Name),
		pose:    start,
		state:   transport.Connected,
	}
}

// OnStatus installs a handler for the status lines the rover echoes.
func (r *Rover) OnStatus(h transport.StatusHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatus = h
}

// SetState forces the link state.
func (r *Rover) SetState(s transport.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// State implements transport.Link.
func (r *Rover) State() transport.ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pose returns the current pose.
func (r *Rover) Pose() Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pose
}

// Commands returns every accepted command in order.
func (r *Rover) Commands() []drive.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]drive.Command(nil), r.commands...)
}

// WriteCommand implements transport.Link. Motion is applied immediately.
func (r *Rover) WriteCommand(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.state != transport.Connected {
		r.mu.Unlock()
		return transport.ErrNotConnected
	}
	c, err := drive.ParseCommand(strings.TrimRight(string(cmd), "\r\n"))
	if err != nil {
		r.mu.Unlock()
		return &transport.WriteError{Command: string(cmd), Err: err}
	}
	r.commands = append(r.commands, c)
	r.apply(c)
	pose, status := r.pose, r.onStatus
	r.mu.Unlock()

	r.log.Debug("command applied", "command", c.String(), "pose", pose.String())
	if status != nil {
		status("OK " + c.String())
	}
	return nil
}

// apply integrates c into the pose. Caller holds mu.
func (r *Rover) apply(c drive.Command) {
	switch c.Op {
	case drive.OpForward:
		r.advance(r.units(c.Value()))
	case drive.OpBackward:
		r.advance(-r.units(c.Value()))
	case drive.OpRotateLeft:
		r.rotate(r.degrees(c.Value()))
	case drive.OpRotateRight:
		r.rotate(-r.degrees(c.Value()))
	default:
		// Stop, arcs, manual drive and speed changes do not move the
		// simulated body.
	}
}

func (r *Rover) units(value int) float64 {
	if r.profile.LinearScale == 0 {
		return 0
	}
	return float64(value) / r.profile.LinearScale
}

func (r *Rover) degrees(value int) float64 {
	if r.profile.TurnScale == 0 {
		return 0
	}
	return float64(value) / r.profile.TurnScale
}

func (r *Rover) advance(d float64) {
	rad := r.pose.Heading * math.Pi / 180
	r.pose.X += d * math.Cos(rad)
	r.pose.Y += d * math.Sin(rad)
}

func (r *Rover) rotate(deg float64) {
	h := math.Mod(r.pose.Heading+deg, 360)
	if h < 0 {
		h += 360
	}
	r.pose.Heading = h
}
