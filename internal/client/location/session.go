// Package location bridges the device positioning source to the realtime
// channel and keeps the session's self and nearby views.
//
// While TRACKING two producers feed the same push path: the positioning
// watch, which reports every change, and an interval poll that backs it
// up. Both are acquired by StartTracking and released by StopTracking; once
// StopTracking returns no further sample is pushed.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cravecart/cravecart/internal/client/notify"
	"github.com/cravecart/cravecart/internal/client/realtime"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/protocol"
)

const DefaultPollInterval = 5 * time.Second

// Positioning is the device positioning source.
type Positioning interface {
	// Available reports whether positioning can be used at all.
	Available() bool

	// Current takes one reading.
	Current(ctx context.Context) (protocol.Sample, error)

	// Watch reports every position change to fn and failures to onErr
	// until stop is called. After stop returns neither is called again.
	Watch(fn func(protocol.Sample), onErr func(error)) (stop func(), err error)
}

// Channel is the part of realtime.Channel the session needs.
type Channel interface {
	Connected() bool
	Emit(ctx context.Context, e protocol.Event, p protocol.Payload) error
	On(e protocol.Event, fn realtime.Handler) (off func())
}

type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "idle"
}

type Options struct {
	PollInterval time.Duration

	// OnNearby observes every nearby-users response after the cache was
	// replaced.
	OnNearby func([]protocol.NearbyUser)

	Notifier notify.Notifier
	Logger   logging.Logger
}

type Session struct {
	ch       Channel
	pos      Positioning
	interval time.Duration
	onNearby func([]protocol.NearbyUser)
	notifier notify.Notifier
	log      logging.Logger
	offs     []func()

	// mu serializes StartTracking and StopTracking.
	mu         sync.Mutex
	state      State
	stopWatch  func()
	cancelPoll context.CancelFunc
	pollDone   chan struct{}

	// pushMu guards the active tracking period. A producer pushes only
	// while its period is active.
	pushMu sync.Mutex
	period uint64
	active uint64
	lastTs int64

	viewMu  sync.RWMutex
	current *protocol.Sample
	self    *protocol.Sample
	nearby  []protocol.NearbyUser
}

func New(ch Channel, pos Positioning, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	s := &Session{
		ch:       ch,
		pos:      pos,
		interval: opts.PollInterval,
		onNearby: opts.OnNearby,
		notifier: opts.Notifier,
		log:      opts.Logger.With("module", "location"),
	}

	s.offs = []func(){
		ch.On(protocol.EventSelfUpdate, s.onSelfUpdate),
		ch.On(protocol.EventNearbyUsers, s.onNearbyUsers),
		ch.On(protocol.EventTrackingStarted, s.onNotice(notify.Info)),
		ch.On(protocol.EventTrackingStopped, s.onNotice(notify.Info)),
		ch.On(protocol.EventLocationError, s.onNotice(notify.Error)),
	}
	return s
}

// Close stops tracking and detaches from the channel.
func (s *Session) Close(ctx context.Context) {
	s.StopTracking(ctx)
	for _, off := range s.offs {
		off()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartTracking needs positioning and a connected channel; without either
// it fails with common.ErrPrecondition, emits nothing and stays IDLE.
// Calling it while TRACKING is a no-op.
func (s *Session) StartTracking(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Tracking {
		return nil
	}
	if s.pos == nil || !s.pos.Available() {
		err := fmt.Errorf("%w: positioning is not available", common.ErrPrecondition)
		notify.Send(ctx, s.notifier, notify.Error, "cannot start tracking", err)
		return err
	}
	if !s.ch.Connected() {
		err := fmt.Errorf("%w: realtime channel is not connected", common.ErrPrecondition)
		notify.Send(ctx, s.notifier, notify.Error, "cannot start tracking", err)
		return err
	}

	if err := s.ch.Emit(ctx, protocol.EventStartTracking, nil); err != nil {
		return fmt.Errorf("%w: %v", common.ErrPrecondition, err)
	}

	s.pushMu.Lock()
	s.period++
	p := s.period
	s.active = p
	s.lastTs = 0
	s.pushMu.Unlock()

	stop, err := s.pos.Watch(
		func(sample protocol.Sample) { s.push(p, sample, "watch") },
		func(err error) { s.positioningError(p, err) },
	)
	if err != nil {
		// the poll still runs; a failing watch does not end tracking
		s.positioningError(p, err)
		stop = func() {}
	}
	s.stopWatch = stop

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelPoll = cancel
	s.pollDone = make(chan struct{})
	go s.poll(pollCtx, p, s.pollDone)

	s.state = Tracking
	s.log.Info(ctx, "tracking started", "poll_interval", s.interval)
	return nil
}

// StopTracking releases both producers and tells the server. It is safe to
// call while IDLE.
func (s *Session) StopTracking(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle {
		return
	}

	s.stopWatch()
	s.cancelPoll()
	<-s.pollDone

	s.pushMu.Lock()
	s.active = 0
	s.pushMu.Unlock()

	s.stopWatch, s.cancelPoll, s.pollDone = nil, nil, nil
	s.state = Idle

	if s.ch.Connected() {
		if err := s.ch.Emit(ctx, protocol.EventStopTracking, nil); err != nil {
			s.log.Warn(ctx, "stop-tracking not delivered", "error", err)
		}
	}
	s.log.Info(ctx, "tracking stopped")
}

// FindNearbyUsers asks the server for users within radius meters of the
// current sample. The answer replaces the nearby cache when it arrives.
// Without a current sample it fails with common.ErrPrecondition and sends
// nothing.
func (s *Session) FindNearbyUsers(ctx context.Context, radius float64) error {
	cur := s.Current()
	if cur == nil {
		return fmt.Errorf("%w: no known location", common.ErrPrecondition)
	}
	if !s.ch.Connected() {
		return fmt.Errorf("%w: realtime channel is not connected", common.ErrPrecondition)
	}
	return s.ch.Emit(ctx, protocol.EventFindNearby, protocol.FindNearby{
		Latitude:  cur.Latitude,
		Longitude: cur.Longitude,
		Radius:    radius,
	})
}

// Current returns the last pushed sample.
func (s *Session) Current() *protocol.Sample {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// Self returns the last sample the server echoed back.
func (s *Session) Self() *protocol.Sample {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	if s.self == nil {
		return nil
	}
	c := *s.self
	return &c
}

func (s *Session) Nearby() []protocol.NearbyUser {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return append([]protocol.NearbyUser(nil), s.nearby...)
}

func (s *Session) poll(ctx context.Context, p uint64, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		sample, err := s.pos.Current(ctx)
		switch {
		case err == nil:
			s.push(p, sample, "poll")
		case ctx.Err() != nil:
			return
		default:
			s.positioningError(p, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Session) push(p uint64, sample protocol.Sample, source string) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	if s.active != p {
		return
	}
	ctx := context.Background()

	if sample.Timestamp < s.lastTs {
		s.log.Warn(ctx, "sample timestamp went backwards", "source", source,
			"timestamp", sample.Timestamp, "previous", s.lastTs)
	}
	s.lastTs = sample.Timestamp

	s.viewMu.Lock()
	s.current = &sample
	s.viewMu.Unlock()

	if err := s.ch.Emit(ctx, protocol.EventLocationUpdate, sample); err != nil {
		s.log.Warn(ctx, "location update not sent", "source", source, "error", err)
		return
	}
	s.log.Debug(ctx, "location pushed", "source", source, "lat", sample.Latitude, "lon", sample.Longitude)
}

func (s *Session) positioningError(p uint64, err error) {
	s.pushMu.Lock()
	live := s.active == p
	s.pushMu.Unlock()
	if !live {
		return
	}

	ctx := context.Background()
	if !errors.Is(err, common.ErrPositioning) {
		err = fmt.Errorf("%w: %v", common.ErrPositioning, err)
	}
	s.log.Warn(ctx, "positioning failed", "error", err)
	notify.Send(ctx, s.notifier, notify.Warn, "location unavailable", err)
}

func (s *Session) onSelfUpdate(_ context.Context, p protocol.Payload) {
	sample := *p.(*protocol.Sample)
	s.viewMu.Lock()
	s.self = &sample
	s.viewMu.Unlock()
}

// onNearbyUsers replaces the cache wholesale. Responses are not sequenced,
// so a slow answer can overwrite a newer one.
func (s *Session) onNearbyUsers(_ context.Context, p protocol.Payload) {
	users := append([]protocol.NearbyUser(nil), p.(*protocol.NearbyUsers).Users...)

	s.viewMu.Lock()
	s.nearby = users
	s.viewMu.Unlock()

	if s.onNearby != nil {
		s.onNearby(users)
	}
}

func (s *Session) onNotice(level notify.Level) realtime.Handler {
	return func(ctx context.Context, p protocol.Payload) {
		n := p.(*protocol.Notice)
		notify.Send(ctx, s.notifier, level, n.Message, nil)
	}
}
