package drive

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teslashibe/go-beaconrover/pkg/estimator"
	"github.com/teslashibe/go-beaconrover/pkg/navigation"
)

// Profile calibrates the command encoding and distance sampling for one
// class of drive hardware.
type Profile struct {
	Name string

	LinearSpeed int     // F/B speed argument
	LinearScale float64 // F/B value = magnitude * LinearScale
	TurnSpeed   int     // G/H speed argument
	TurnScale   float64 // G/H value = round(degrees * TurnScale), in the controller's turn unit

	Sampling estimator.Config
}

// HighVoltage is tuned for the 7.4 V pack: values are motor-on times in ms,
// 850 ms at speed 185 is a quarter turn.
func HighVoltage() Profile {
	return Profile{
		Name:        "high",
		LinearSpeed: 200,
		LinearScale: 1000,
		TurnSpeed:   185,
		TurnScale:   850.0 / 90.0,
		Sampling:    estimator.DefaultConfig(),
	}
}

// LowVoltage is tuned for the 5 V supply. Its controller reads the G/H value
// as a turn percentage of its own calibrated sweep, not as degrees or ms.
// Algorithms still emit degrees; the magnitude is passed through unscaled,
// so a 90 degree move sends 90 and the 180 degree reversal sends 180 (two
// calibrated sweeps). Sampling is short with a plain mean.
func LowVoltage() Profile {
	return Profile{
		Name:        "low",
		LinearSpeed: 200,
		LinearScale: 10,
		TurnSpeed:   200,
		TurnScale:   0.01 * 100,
		Sampling: estimator.Config{
			MinSamples:    4,
			PollInterval:  100 * time.Millisecond,
			WindowTimeout: 2500 * time.Millisecond,
			Threshold:     estimator.DefaultThreshold,
			MaxWindows:    10,
			Reducer:       estimator.Mean,
		},
	}
}

// ProfileByName returns "high" or "low".
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "high", "high_voltage", "":
		return HighVoltage(), nil
	case "low", "low_voltage":
		return LowVoltage(), nil
	default:
		return Profile{}, fmt.Errorf("drive: unknown profile %q", name)
	}
}

// Encode converts a move into a wire command.
func (p Profile) Encode(move navigation.Move) (Command, error) {
	switch move.Direction {
	case navigation.Forward:
		return Command{Op: OpForward, Args: []int{p.LinearSpeed, p.linear(move.Magnitude)}}, nil
	case navigation.Backward:
		return Command{Op: OpBackward, Args: []int{p.LinearSpeed, p.linear(move.Magnitude)}}, nil
	case navigation.Left:
		return Command{Op: OpRotateLeft, Args: []int{p.TurnSpeed, p.turn(move.Magnitude)}}, nil
	case navigation.Right:
		return Command{Op: OpRotateRight, Args: []int{p.TurnSpeed, p.turn(move.Magnitude)}}, nil
	default:
		return Command{}, fmt.Errorf("drive: cannot encode %v", move)
	}
}

func (p Profile) linear(magnitude int) int {
	return int(math.Round(float64(magnitude) * p.LinearScale))
}

func (p Profile) turn(magnitude int) int {
	return int(math.Round(float64(magnitude) * p.TurnScale))
}
