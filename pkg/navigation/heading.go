package navigation

import (
	"log/slog"
	"math"

	"github.com/teslashibe/go-beaconrover/internal/log"
)

// reverseAngle turns the rover around.
const reverseAngle = 180

// HeadingCorrectionAlgorithm iteratively narrows the heading toward the
// beacon using only distance changes.
//
// Correction law:
//   - right after a turn, probe forward (the turn produced no new reading)
//   - improving beyond Deadband: keep going forward, halve the correction
//     angle down to MinTurnAngle
//   - worsening beyond Deadband: reverse heading and reset the correction
//   - flat within Deadband: turn by the correction angle, alternating sides
//
// Forward steps scale with the remaining distance (StepGain) and are clamped
// to [MinForwardStep, MaxForwardStep], so the rover slows near the target.
type HeadingCorrectionAlgorithm struct {
	cfg AlgorithmConfig
	log *slog.Logger

	correction int  // current correction angle
	turnLeft   bool // side of the next flat-reading turn
}

// NewHeadingCorrectionAlgorithm creates the algorithm with cfg, filling any
// unset heading-correction tunables from DefaultAlgorithmConfig.
func NewHeadingCorrectionAlgorithm(cfg AlgorithmConfig) *HeadingCorrectionAlgorithm {
	def := DefaultAlgorithmConfig()
	if cfg.MinForwardStep <= 0 {
		cfg.MinForwardStep = def.MinForwardStep
	}
	if cfg.MaxForwardStep < cfg.MinForwardStep {
		cfg.MaxForwardStep = max(cfg.ForwardStep, cfg.MinForwardStep)
	}
	if cfg.StepGain <= 0 {
		cfg.StepGain = def.StepGain
	}
	if cfg.MinTurnAngle <= 0 {
		cfg.MinTurnAngle = def.MinTurnAngle
	}
	if cfg.MinTurnAngle > cfg.TurnAngle {
		cfg.MinTurnAngle = cfg.TurnAngle
	}
	if cfg.Deadband < 0 {
		cfg.Deadband = 0
	}
	return &HeadingCorrectionAlgorithm{
		cfg:        cfg,
		log:        log.Component("heading"),
		correction: cfg.TurnAngle,
	}
}

// InitialMove probes forward with the configured step.
func (h *HeadingCorrectionAlgorithm) InitialMove() Move {
	return Move{Direction: Forward, Magnitude: h.cfg.ForwardStep}
}

// NextMove applies the correction law.
func (h *HeadingCorrectionAlgorithm) NextMove(previous, current float64, lastTurn int) Move {
	step := h.step(current)
	if lastTurn != 0 {
		return Move{Direction: Forward, Magnitude: step}
	}

	delta := previous - current
	switch {
	case delta > h.cfg.Deadband:
		h.correction = max(h.correction/2, h.cfg.MinTurnAngle)
		return Move{Direction: Forward, Magnitude: step}

	case delta < -h.cfg.Deadband:
		h.correction = h.cfg.TurnAngle
		h.log.Debug("moving away, reversing", "previous", previous, "current", current)
		return Move{Direction: Right, Magnitude: reverseAngle}

	default:
		dir := Right
		if h.turnLeft {
			dir = Left
		}
		h.turnLeft = !h.turnLeft
		return Move{Direction: dir, Magnitude: h.correction}
	}
}

// CheckArrival is true iff current < ArrivalThreshold.
func (h *HeadingCorrectionAlgorithm) CheckArrival(current float64) bool {
	return current < h.cfg.ArrivalThreshold
}

// Correction returns the current correction angle.
func (h *HeadingCorrectionAlgorithm) Correction() int {
	return h.correction
}

func (h *HeadingCorrectionAlgorithm) step(distance float64) int {
	s := int(math.Round(distance * h.cfg.StepGain))
	return min(max(s, h.cfg.MinForwardStep), h.cfg.MaxForwardStep)
}
