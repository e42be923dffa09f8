// Package navigation implements the beacon-guided navigation control loop.
//
// A Machine sequences gather → calculate → turn/move for one session:
//   - Gathering asks the Executor for a stabilised distance
//   - Calculating checks arrival and asks the Algorithm for the next Move
//   - Turning / Moving hand the Move back to the Executor
//
// The Navigator owns at most one Machine at a time and exposes its state,
// arrival flag and last move to the surrounding application.
package navigation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Direction is the kind of a Move.
type Direction int

const (
	Forward Direction = iota
	Backward
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "FORWARD"
	case Backward:
		return "BACKWARD"
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// IsTurn reports whether d rotates the vehicle in place.
func (d Direction) IsTurn() bool {
	return d == Left || d == Right
}

// MarshalText encodes the direction name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts a direction name, case-insensitive.
func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "FORWARD":
		*d = Forward
	case "BACKWARD":
		*d = Backward
	case "LEFT":
		*d = Left
	case "RIGHT":
		*d = Right
	default:
		return fmt.Errorf("navigation: unknown direction %q", string(b))
	}
	return nil
}

// Move is one discrete actuation. Magnitude is distance units for
// Forward/Backward and degrees (or calibration percent) for Left/Right.
type Move struct {
	Direction Direction `json:"direction"`
	Magnitude int       `json:"magnitude"`
}

func (m Move) String() string {
	return fmt.Sprintf("%s:%d", m.Direction, m.Magnitude)
}

// State is the navigation state of a session.
type State int

const (
	Idle State = iota
	Gathering
	Calculating
	Turning
	Moving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Gathering:
		return "GATHERING"
	case Calculating:
		return "CALCULATING"
	case Turning:
		return "TURNING"
	case Moving:
		return "MOVING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalJSON encodes the state name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// AlgorithmType selects a navigation algorithm at session start.
type AlgorithmType int

const (
	GradientDescent AlgorithmType = iota + 1
	HeadingCorrection
)

func (a AlgorithmType) String() string {
	switch a {
	case GradientDescent:
		return "gradient_descent"
	case HeadingCorrection:
		return "heading_correction"
	default:
		return fmt.Sprintf("AlgorithmType(%d)", int(a))
	}
}

// ParseAlgorithm converts an algorithm name into an AlgorithmType.
func ParseAlgorithm(value string) (AlgorithmType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "gradient_descent", "gradient":
		return GradientDescent, nil
	case "heading_correction", "iterative_heading_correction", "heading":
		return HeadingCorrection, nil
	default:
		return 0, fmt.Errorf("navigation: unknown algorithm %q", value)
	}
}

// MarshalText encodes the algorithm name.
func (a AlgorithmType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText allows algorithms to be loaded from JSON strings.
func (a *AlgorithmType) UnmarshalText(b []byte) error {
	parsed, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
