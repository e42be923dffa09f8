package navigation

import (
	"errors"
	"fmt"
)

// Algorithm decides the next Move from the distance history.
type Algorithm interface {
	// InitialMove is used while fewer than two distances are known.
	InitialMove() Move

	// NextMove picks a move from the previous and current distance.
	// lastTurn is the magnitude of the most recent turn, or 0 when the last
	// actuation was a linear move.
	NextMove(previous, current float64, lastTurn int) Move

	// CheckArrival reports whether current is close enough to the target.
	CheckArrival(current float64) bool
}

// AlgorithmConfig holds the tunables shared by the algorithm variants.
type AlgorithmConfig struct {
	ArrivalThreshold float64 // arrival when distance < threshold
	ForwardStep      int     // distance units per forward move
	TurnAngle        int     // degrees for the escape / correction turn; the drive profile converts to its turn unit

	// Heading correction only.
	MinForwardStep int     // smallest adaptive step
	MaxForwardStep int     // largest adaptive step
	StepGain       float64 // step = distance * gain before clamping
	MinTurnAngle   int     // correction angle floor
	Deadband       float64 // distance change treated as noise
}

// DefaultAlgorithmConfig returns the tuning used on the rover.
func DefaultAlgorithmConfig() AlgorithmConfig {
	return AlgorithmConfig{
		ArrivalThreshold: 0.9,
		ForwardStep:      2,
		TurnAngle:        90,
		MinForwardStep:   1,
		MaxForwardStep:   3,
		StepGain:         0.5,
		MinTurnAngle:     15,
		Deadband:         0.15,
	}
}

// Validate checks the configuration for errors.
func (c AlgorithmConfig) Validate() error {
	if c.ArrivalThreshold <= 0 {
		return errors.New("navigation: arrival threshold must be > 0")
	}
	if c.ForwardStep <= 0 {
		return errors.New("navigation: forward step must be > 0")
	}
	if c.TurnAngle <= 0 || c.TurnAngle > 180 {
		return errors.New("navigation: turn angle must be in (0, 180]")
	}
	return nil
}

// NewAlgorithm is the factory keyed by AlgorithmType.
func NewAlgorithm(kind AlgorithmType, cfg AlgorithmConfig) (Algorithm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch kind {
	case GradientDescent:
		return NewGradientDescentAlgorithm(cfg), nil
	case HeadingCorrection:
		return NewHeadingCorrectionAlgorithm(cfg), nil
	default:
		return nil, fmt.Errorf("navigation: unsupported algorithm %v", kind)
	}
}
