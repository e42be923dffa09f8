// Package proximity holds raw beacon ranging samples.
//
// Samples arrive from a scanning collaborator (MQTT gateway, websocket
// gateway, simulator) and are kept per device in a bounded ring history.
// Readers take snapshots; nothing here blocks on a reader.
package proximity

import (
	"fmt"
	"math"
	"time"
)

// HistoryCapacity is the number of samples retained per device.
const HistoryCapacity = 100

// Sample is one raw ranging measurement to a tracked device.
type Sample struct {
	RSSI       int       `json:"rssi"`                 // dBm
	Distance   float64   `json:"distance"`             // meters, > 0
	CapturedAt time.Time `json:"captured_at"`          // local receive time
	ReportedAt time.Time `json:"reported_at,omitzero"` // sender clock, if it sent one
}

func (s Sample) String() string {
	return fmt.Sprintf("RSSI(%d dBm) D(%.3f m) at %s", s.RSSI, s.Distance, s.CapturedAt.Format(time.StampMilli))
}

// Default log-distance path loss parameters for iBeacon-class transmitters.
const (
	DefaultMeasuredPower = -59 // RSSI at 1m
	DefaultPathLossExp   = 2.0
)

// RSSIToDistance converts a signal strength into meters using the
// log-distance path loss model d = 10^((P - rssi) / (10n)).
func RSSIToDistance(rssi, measuredPower, pathLossExp float64) float64 {
	if pathLossExp <= 0 {
		pathLossExp = DefaultPathLossExp
	}
	return math.Pow(10, (measuredPower-rssi)/(10*pathLossExp))
}

// DistanceToRSSI is the inverse of RSSIToDistance, rounded to whole dBm.
func DistanceToRSSI(distance, measuredPower, pathLossExp float64) int {
	if distance <= 0 {
		distance = 0.01
	}
	if pathLossExp <= 0 {
		pathLossExp = DefaultPathLossExp
	}
	return int(math.Round(measuredPower - 10*pathLossExp*math.Log10(distance)))
}
