package navigation

import (
	"log/slog"

	"github.com/teslashibe/go-beaconrover/internal/log"
)

// GradientDescentAlgorithm is a greedy hill climb over the scalar distance.
//
// Improving: repeat the forward step. Not improving and not just turned:
// turn right by TurnAngle. Not improving right after a turn: go forward
// anyway so the rover does not spin in place.
//
// Known limitation: it only alternates straight runs with one fixed turn,
// so it is not guaranteed to converge for arbitrary beacon geometries.
type GradientDescentAlgorithm struct {
	cfg AlgorithmConfig
	log *slog.Logger
}

// NewGradientDescentAlgorithm creates the algorithm with cfg.
func NewGradientDescentAlgorithm(cfg AlgorithmConfig) *GradientDescentAlgorithm {
	return &GradientDescentAlgorithm{cfg: cfg, log: log.Component("gradient")}
}

// InitialMove steps forward to obtain a second distance.
func (g *GradientDescentAlgorithm) InitialMove() Move {
	return Move{Direction: Forward, Magnitude: g.cfg.ForwardStep}
}

// NextMove implements the hill-climb rule.
func (g *GradientDescentAlgorithm) NextMove(previous, current float64, lastTurn int) Move {
	g.log.Debug("distance delta", "previous", previous, "current", current, "last_turn", lastTurn)

	if previous > current {
		return Move{Direction: Forward, Magnitude: g.cfg.ForwardStep}
	}
	if lastTurn == 0 {
		return Move{Direction: Right, Magnitude: g.cfg.TurnAngle}
	}
	return Move{Direction: Forward, Magnitude: g.cfg.ForwardStep}
}

// CheckArrival is true iff current < ArrivalThreshold.
func (g *GradientDescentAlgorithm) CheckArrival(current float64) bool {
	arrived := current < g.cfg.ArrivalThreshold
	g.log.Info("arrival check", "distance", current, "threshold", g.cfg.ArrivalThreshold, "arrived", arrived)
	return arrived
}
