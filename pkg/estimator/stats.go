// Package estimator turns noisy beacon ranging samples into one stable
// distance per sampling window.
package estimator

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold is the outlier cut-off in standard deviations.
const DefaultThreshold = 1.5

// ErrNoSamples is returned when a reducer gets an empty window.
var ErrNoSamples = errors.New("estimator: no samples")

// Reducer collapses one window of distances into a single value.
type Reducer func(values []float64, threshold float64) (float64, error)

// Median returns the middle value, averaging the two central values for
// even-length input. The input is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// StdDev returns the Bessel-corrected sample standard deviation,
// or 0 for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// Mean returns the arithmetic mean of values.
func Mean(values []float64, _ float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoSamples
	}
	return stat.Mean(values, nil), nil
}

// TrimmedMean is the two-pass outlier filter used for beacon ranging.
//
// Pass one keeps values within threshold*stddev of the median; with fewer
// than three survivors the median itself is returned. Pass two recomputes
// mean and stddev over the survivors, keeps values within threshold of that
// mean and averages them, falling back to the pass-one average when nothing
// survives.
func TrimmedMean(values []float64, threshold float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoSamples
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	median := Median(values)
	std := StdDev(values)

	firstPass := within(values, median, threshold*std)
	if len(firstPass) < 3 {
		return median, nil
	}

	cleanMean := stat.Mean(firstPass, nil)
	cleanStd := StdDev(firstPass)

	secondPass := within(firstPass, cleanMean, threshold*cleanStd)
	if len(secondPass) == 0 {
		return cleanMean, nil
	}
	return stat.Mean(secondPass, nil), nil
}

// within returns the values at most limit away from center.
func within(values []float64, center, limit float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.Abs(v-center) <= limit {
			out = append(out, v)
		}
	}
	return out
}
