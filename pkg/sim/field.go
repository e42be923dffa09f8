package sim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/proximity"
)

// Sink receives generated samples. *proximity.Store satisfies it.
type Sink interface {
	Append(addr string, sample proximity.Sample)
	SetScanning(on bool)
}

// Positioner reports where the observer is.
type Positioner interface {
	Pose() Pose
}

// FieldConfig places one beacon and shapes its noise.
type FieldConfig struct {
	Addr        string
	X, Y        float64
	Interval    time.Duration // time between samples
	Noise       float64       // stddev of additive distance noise, meters
	OutlierRate float64       // probability of a multipath outlier
	OutlierGain float64       // outlier distance multiplier
	MinDistance float64       // floor for reported distance
	Seed        uint64
}

// DefaultFieldConfig places a beacon 6 units ahead and 3 to the left.
func DefaultFieldConfig(addr string) FieldConfig {
	return FieldConfig{
		Addr:        addr,
		X:           6,
		Y:           3,
		Interval:    100 * time.Millisecond,
		Noise:       0.1,
		OutlierRate: 0.05,
		OutlierGain: 8,
		MinDistance: 0.05,
		Seed:        1,
	}
}

// Validate checks the configuration for errors.
func (c FieldConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("sim: beacon address required")
	}
	if c.Interval <= 0 {
		return errors.New("sim: interval must be > 0")
	}
	if c.Noise < 0 {
		return errors.New("sim: noise must be >= 0")
	}
	if c.OutlierRate < 0 || c.OutlierRate > 1 {
		return errors.New("sim: outlier rate must be in [0, 1]")
	}
	return nil
}

// Field emits ranging samples for one beacon as seen from a Positioner.
type Field struct {
	cfg  FieldConfig
	from Positioner
	sink Sink
	log  *slog.Logger
	now  func() time.Time

	noise   distuv.Normal
	outlier distuv.Bernoulli
}

// NewField creates a field.
func NewField(cfg FieldConfig, from Positioner, sink Sink) (*Field, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	return &Field{
		cfg:     cfg,
		from:    from,
		sink:    sink,
		log:     log.Component("sim").With("beacon", cfg.Addr),
		now:     time.Now,
		noise:   distuv.Normal{Mu: 0, Sigma: cfg.Noise, Src: src},
		outlier: distuv.Bernoulli{P: cfg.OutlierRate, Src: src},
	}, nil
}

// TrueDistance is the noiseless distance from the observer to the beacon.
func (f *Field) TrueDistance() float64 {
	p := f.from.Pose()
	return math.Hypot(f.cfg.X-p.X, f.cfg.Y-p.Y)
}

// Tick emits one sample.
func (f *Field) Tick() proximity.Sample {
	// Timestamp before reading the pose so a sample never claims to be
	// newer than the position it was taken from.
	at := f.now()
	d := f.TrueDistance()

	if f.cfg.Noise > 0 {
		d += f.noise.Rand()
	}
	if f.cfg.OutlierRate > 0 && f.outlier.Rand() == 1 {
		d *= f.cfg.OutlierGain
	}
	d = math.Max(d, f.cfg.MinDistance)

	sample := proximity.Sample{
		RSSI:       proximity.DistanceToRSSI(d, proximity.DefaultMeasuredPower, proximity.DefaultPathLossExp),
		Distance:   d,
		CapturedAt: at,
	}
	f.sink.Append(f.cfg.Addr, sample)
	return sample
}

// Run emits samples every Interval until ctx is cancelled.
func (f *Field) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.sink.SetScanning(true)
	defer f.sink.SetScanning(false)
	f.log.Info("beacon field running", "x", f.cfg.X, "y", f.cfg.Y, "interval", f.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick()
		}
	}
}
