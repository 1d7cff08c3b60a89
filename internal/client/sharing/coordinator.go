// Package sharing negotiates consent-based, time-boxed location sharing
// between two users over the realtime channel.
//
// The server owns the clock: a grant is EXPIRED only when the server says
// so. Outgoing requests have no room id until the target answers, so they
// are kept per target user, oldest first, until then.
package sharing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cravecart/cravecart/internal/client/notify"
	"github.com/cravecart/cravecart/internal/client/realtime"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/protocol"
)

type Channel interface {
	Connected() bool
	Emit(ctx context.Context, e protocol.Event, p protocol.Payload) error
	On(e protocol.Event, fn realtime.Handler) (off func())
}

type Options struct {
	// Self returns the current user's id; requests to oneself are refused.
	Self func() string

	// OnRequest is called for every incoming request, after it is stored.
	OnRequest func(Grant)

	Notifier notify.Notifier
	Logger   logging.Logger
	Now      func() time.Time
}

type Coordinator struct {
	ch        Channel
	self      func() string
	onRequest func(Grant)
	notifier  notify.Notifier
	log       logging.Logger
	now       func() time.Time
	offs      []func()

	mu        sync.Mutex
	requested map[string][]*Grant // outgoing without a room, by target user id
	grants    map[string]*Grant // by room id
	shared    map[string]protocol.SharedUpdate
}

func New(ch Channel, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Self == nil {
		opts.Self = func() string { return "" }
	}
	c := &Coordinator{
		ch:        ch,
		self:      opts.Self,
		onRequest: opts.OnRequest,
		notifier:  opts.Notifier,
		log:       opts.Logger.With("module", "sharing"),
		now:       opts.Now,
		requested: make(map[string][]*Grant),
		grants:    make(map[string]*Grant),
		shared:    make(map[string]protocol.SharedUpdate),
	}
	c.offs = []func(){
		ch.On(protocol.EventShareRequest, c.onShareRequest),
		ch.On(protocol.EventShareAccepted, c.onShareAnswered(Accepted)),
		ch.On(protocol.EventShareRejected, c.onShareAnswered(Rejected)),
		ch.On(protocol.EventShareExpired, c.onShareExpired),
		ch.On(protocol.EventSharedUpdate, c.onSharedUpdate),
	}
	return c
}

func (c *Coordinator) Close() {
	for _, off := range c.offs {
		off()
	}
}

// Reset forgets every grant. Called when the session ends.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.requested)
	clear(c.grants)
	clear(c.shared)
}

// ShareLocation asks target to receive our location for minutes. It returns
// once the request is sent; the answer arrives as a notification.
func (c *Coordinator) ShareLocation(ctx context.Context, target string, minutes int) error {
	switch {
	case target == "":
		return fmt.Errorf("%w: target user is required", common.ErrPrecondition)
	case minutes <= 0:
		return fmt.Errorf("%w: duration must be positive", common.ErrPrecondition)
	case target == c.self():
		return fmt.Errorf("%w: cannot share with yourself", common.ErrPrecondition)
	case !c.ch.Connected():
		return fmt.Errorf("%w: realtime channel is not connected", common.ErrPrecondition)
	}

	err := c.ch.Emit(ctx, protocol.EventShare, protocol.Share{TargetUserID: target, Duration: minutes})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.requested[target] = append(c.requested[target], &Grant{
		FromUserID:      c.self(),
		ToUserID:        target,
		DurationMinutes: minutes,
		Outgoing:        true,
		State:           Requested,
		UpdatedAt:       c.now(),
	})
	c.mu.Unlock()

	c.log.Info(ctx, "share requested", "target", target, "minutes", minutes)
	return nil
}

// Accept consents to a pending incoming request.
func (c *Coordinator) Accept(ctx context.Context, roomID string) error {
	return c.answer(ctx, roomID, Accepted, protocol.EventShareAccept)
}

// Reject declines a pending incoming request.
func (c *Coordinator) Reject(ctx context.Context, roomID string) error {
	return c.answer(ctx, roomID, Rejected, protocol.EventShareReject)
}

func (c *Coordinator) answer(ctx context.Context, roomID string, to State, e protocol.Event) error {
	c.mu.Lock()
	g, ok := c.grants[roomID]
	if !ok || g.Outgoing {
		c.mu.Unlock()
		return fmt.Errorf("%w: no incoming request for room %q", common.ErrorNotFound, roomID)
	}
	if g.State != Requested {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.State, to)
	}
	from := g.FromUserID
	c.mu.Unlock()

	if !c.ch.Connected() {
		return fmt.Errorf("%w: realtime channel is not connected", common.ErrPrecondition)
	}
	if err := c.ch.Emit(ctx, e, protocol.ShareAnswer{FromUserID: from, RoomID: roomID}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok = c.grants[roomID]
	if !ok {
		return fmt.Errorf("%w: room %q", common.ErrorNotFound, roomID)
	}
	return g.transition(to, c.now())
}

// Pending lists incoming requests still waiting for an answer.
func (c *Coordinator) Pending() []Grant {
	return c.list(func(g *Grant) bool { return !g.Outgoing && g.State == Requested })
}

// Grants lists every known grant, outgoing requests without a room first.
func (c *Coordinator) Grants() []Grant {
	c.mu.Lock()
	var out []Grant
	for _, gs := range c.requested {
		for _, g := range gs {
			out = append(out, *g)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ToUserID < out[j].ToUserID })
	return append(out, c.list(func(*Grant) bool { return true })...)
}

func (c *Coordinator) Grant(roomID string) (Grant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[roomID]
	if !ok {
		return Grant{}, false
	}
	return *g, true
}

// Shared returns the counterpart's latest relayed sample for a room.
func (c *Coordinator) Shared(roomID string) (protocol.SharedUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.shared[roomID]
	return u, ok
}

func (c *Coordinator) list(keep func(*Grant) bool) []Grant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Grant, 0, len(c.grants))
	for _, g := range c.grants {
		if keep(g) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (c *Coordinator) onShareRequest(ctx context.Context, p protocol.Payload) {
	r := p.(*protocol.ShareRequest)

	c.mu.Lock()
	if _, dup := c.grants[r.RoomID]; dup {
		c.mu.Unlock()
		c.log.Warn(ctx, "duplicate share request ignored", "room_id", r.RoomID)
		return
	}
	g := &Grant{
		RoomID:          r.RoomID,
		FromUserID:      r.FromUserID,
		FromUserEmail:   r.FromUserEmail,
		ToUserID:        c.self(),
		DurationMinutes: r.Duration,
		State:           Requested,
		UpdatedAt:       c.now(),
	}
	c.grants[r.RoomID] = g
	snapshot := *g
	c.mu.Unlock()

	who := r.FromUserEmail
	if who == "" {
		who = r.FromUserID
	}
	notify.Send(ctx, c.notifier, notify.Info,
		fmt.Sprintf("%s wants to share location with you for %d min (room %s)", who, r.Duration, r.RoomID), nil)
	if c.onRequest != nil {
		c.onRequest(snapshot)
	}
}

func (c *Coordinator) onShareAnswered(to State) realtime.Handler {
	return func(ctx context.Context, p protocol.Payload) {
		r := p.(*protocol.ShareResponse)

		c.mu.Lock()
		g := c.match(r)
		if g == nil {
			c.mu.Unlock()
			c.log.Warn(ctx, "share answer for unknown request", "by", r.ByUserEmail, "room_id", r.RoomID)
			return
		}
		err := g.transition(to, c.now())
		if err == nil {
			g.ByUserEmail = r.ByUserEmail
			if r.RoomID != "" && g.RoomID == "" {
				g.RoomID = r.RoomID
				c.grants[r.RoomID] = g
			}
			if g.RoomID != "" {
				c.dropRequested(g)
			}
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Warn(ctx, "share answer ignored", "room_id", r.RoomID, "error", err)
			return
		}

		who := r.ByUserEmail
		if who == "" {
			who = r.ByUserID
		}
		level := notify.Info
		if to == Rejected {
			level = notify.Warn
		}
		notify.Send(ctx, c.notifier, level, fmt.Sprintf("%s %s your share request", who, to), nil)
	}
}

// match finds the outgoing grant an answer refers to. Answers by a user
// settle that user's oldest open request first. Callers hold c.mu.
func (c *Coordinator) match(r *protocol.ShareResponse) *Grant {
	if r.RoomID != "" {
		if g, ok := c.grants[r.RoomID]; ok && g.Outgoing {
			return g
		}
	}
	if r.ByUserID != "" {
		return oldestOpen(c.requested[r.ByUserID])
	}
	// Without ids the answer is only attributable when one request is open.
	var open []*Grant
	for _, gs := range c.requested {
		for _, g := range gs {
			if g.State == Requested {
				open = append(open, g)
			}
		}
	}
	if len(open) == 1 {
		return open[0]
	}
	return nil
}

func oldestOpen(gs []*Grant) *Grant {
	for _, g := range gs {
		if g.State == Requested {
			return g
		}
	}
	return nil
}

// dropRequested removes g from the roomless outgoing list. Callers hold c.mu.
func (c *Coordinator) dropRequested(g *Grant) {
	gs := c.requested[g.ToUserID]
	for i, x := range gs {
		if x == g {
			gs = append(gs[:i:i], gs[i+1:]...)
			break
		}
	}
	if len(gs) == 0 {
		delete(c.requested, g.ToUserID)
		return
	}
	c.requested[g.ToUserID] = gs
}

func (c *Coordinator) onShareExpired(ctx context.Context, p protocol.Payload) {
	r := p.(*protocol.ShareExpired)

	c.mu.Lock()
	var expired []string
	for id, g := range c.grants {
		if r.RoomID != "" && id != r.RoomID {
			continue
		}
		if g.State != Accepted {
			continue
		}
		if err := g.transition(Expired, c.now()); err == nil {
			expired = append(expired, id)
			delete(c.shared, id)
		}
	}
	c.mu.Unlock()

	if len(expired) == 0 {
		c.log.Debug(ctx, "share expiry without accepted grant", "room_id", r.RoomID)
		return
	}
	sort.Strings(expired)
	for _, id := range expired {
		notify.Send(ctx, c.notifier, notify.Info, fmt.Sprintf("location sharing in room %s has ended", id), nil)
	}
}

func (c *Coordinator) onSharedUpdate(ctx context.Context, p protocol.Payload) {
	u := p.(*protocol.SharedUpdate)

	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[u.RoomID]
	if !ok || g.State != Accepted {
		c.log.Debug(ctx, "shared update outside an accepted grant", "room_id", u.RoomID)
		return
	}
	c.shared[u.RoomID] = *u
}
