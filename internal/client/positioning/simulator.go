// Package positioning provides positioning sources for the CLI client. The
// terminal has no device location, so the client walks a simulated one.
package positioning

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/protocol"
)

var (
	ErrDisabled = errors.New("positioning disabled")
	ErrWatching = errors.New("already watching")
)

const (
	DefaultStep     = 25.0 // meters
	DefaultInterval = 3 * time.Second

	metersPerDegree = 111_320.0
)

type SimulatorOptions struct {
	// Step bounds the distance walked per reading, in meters.
	Step float64

	// Interval between watch readings.
	Interval time.Duration

	Seed int64
	Now  func() time.Time
}

// Simulator is a random walk around a starting point.
type Simulator struct {
	step     float64
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	lat, lon float64
	enabled  bool
	failure  error
	watching bool
}

func NewSimulator(lat, lon float64, opts SimulatorOptions) *Simulator {
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Simulator{
		step:     opts.Step,
		interval: opts.Interval,
		now:      opts.Now,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		lat:      lat,
		lon:      lon,
		enabled:  true,
	}
}

func (s *Simulator) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled switches positioning on or off, like a permission toggle.
func (s *Simulator) SetEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
}

// Fail makes every reading return err until Fail(nil).
func (s *Simulator) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *Simulator) Current(ctx context.Context) (protocol.Sample, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Sample{}, err
	}
	return s.next()
}

// Watch starts a reading every interval. Only one watch may run at a time.
func (s *Simulator) Watch(fn func(protocol.Sample), onErr func(error)) (func(), error) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil, ErrDisabled
	}
	if s.watching {
		s.mu.Unlock()
		return nil, ErrWatching
	}
	s.watching = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(s.interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			sample, err := s.next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onErr(err)
				continue
			}
			fn(sample)
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
			s.mu.Lock()
			s.watching = false
			s.mu.Unlock()
		})
	}
	return stop, nil
}

func (s *Simulator) next() (protocol.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return protocol.Sample{}, positioningErr(ErrDisabled)
	}
	if s.failure != nil {
		return protocol.Sample{}, positioningErr(s.failure)
	}

	dx, dy := s.move()
	s.lat = clamp(s.lat+dy/metersPerDegree, -90, 90)
	s.lon = wrap(s.lon + dx/(metersPerDegree*math.Max(math.Cos(s.lat*math.Pi/180), 0.01)))

	accuracy := 5 + s.rng.Float64()*15
	return protocol.Sample{
		Latitude:  s.lat,
		Longitude: s.lon,
		Accuracy:  &accuracy,
		Timestamp: s.now().UnixMilli(),
	}, nil
}

// move returns a random displacement in meters, east and north.
func (s *Simulator) move() (float64, float64) {
	angle := s.rng.Float64() * 2 * math.Pi
	magnitude := s.rng.Float64() * s.step
	return magnitude * math.Cos(angle), magnitude * math.Sin(angle)
}

func positioningErr(err error) error {
	if errors.Is(err, common.ErrPositioning) {
		return err
	}
	return errors.Join(common.ErrPositioning, err)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func wrap(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
