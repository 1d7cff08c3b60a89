// Package hub is the server side of the realtime protocol. It consumes every
// client publication on the bus, keeps the latest position of each user,
// answers nearby queries and drives location sharing grants, including the
// timers that end them.
//
// The hub trusts the user id in the subject a message arrives on. In a
// deployment the NATS server's per-user permissions make that id
// unforgeable.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cravecart/cravecart/internal/bus"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/protocol"
)

const DefaultHistorySize = 50

// Directory resolves user ids to email addresses.
type Directory interface {
	Email(ctx context.Context, userID string) (string, error)
}

// Timer is the part of *time.Timer the hub needs.
type Timer interface {
	Stop() bool
}

type Options struct {
	// HistorySize bounds the samples kept per user.
	HistorySize int

	Metrics *Metrics

	// AfterFunc schedules grant expiry; time.AfterFunc when nil.
	AfterFunc func(d time.Duration, f func()) Timer

	// NewRoomID names a grant; uuid.NewString when nil.
	NewRoomID func() string

	Logger logging.Logger
}

type grantState int

const (
	grantPending grantState = iota
	grantAccepted
)

type grant struct {
	roomID   string
	from     string
	to       string
	duration int
	state    grantState
	timer    Timer
}

func (g *grant) length() time.Duration {
	return time.Duration(g.duration) * time.Minute
}

func (g *grant) counterpart(userID string) (string, bool) {
	switch userID {
	case g.from:
		return g.to, true
	case g.to:
		return g.from, true
	}
	return "", false
}

type userState struct {
	tracking bool
	latest   *protocol.Sample
	history  []protocol.Sample
}

type message struct {
	subject string
	event   protocol.Event
	payload protocol.Payload
}

type Hub struct {
	conn bus.Conn
	dir  Directory
	opts Options
	log  logging.Logger

	subMu  sync.Mutex
	sub    bus.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	users  map[string]*userState
	grants map[string]*grant
	emails map[string]string
}

// New creates a hub publishing and subscribing on conn. dir may be nil, in
// which case emails are left empty.
func New(conn bus.Conn, dir Directory, opts Options) *Hub {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.NewRoomID == nil {
		opts.NewRoomID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Hub{
		conn:   conn,
		dir:    dir,
		opts:   opts,
		log:    opts.Logger.With("module", "hub"),
		users:  make(map[string]*userState),
		grants: make(map[string]*grant),
		emails: make(map[string]string),
	}
}

// Start subscribes to client publications. Messages are handled until
// Close is called or ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if h.sub != nil {
		return errors.New("hub already started")
	}
	hctx, cancel := context.WithCancel(ctx)
	sub, err := h.conn.Subscribe(protocol.UpWildcard(), h.handle)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", protocol.UpWildcard(), err)
	}
	h.sub, h.ctx, h.cancel = sub, hctx, cancel
	h.log.Info(ctx, "hub started", "history_size", h.opts.HistorySize)
	return nil
}

// Close stops the subscription and every pending expiry timer.
func (h *Hub) Close() error {
	h.subMu.Lock()
	sub, cancel := h.sub, h.cancel
	h.sub, h.cancel = nil, nil
	h.subMu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	h.mu.Lock()
	for _, g := range h.grants {
		if g.timer != nil {
			g.timer.Stop()
		}
	}
	h.mu.Unlock()
	return err
}

func (h *Hub) context() context.Context {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if h.ctx == nil {
		return context.Background()
	}
	return h.ctx
}

func (h *Hub) handle(subject string, data []byte) {
	ctx := h.context()

	route, err := protocol.ParseSubject(subject)
	if err != nil || route.Direction != protocol.Outbound {
		h.opts.Metrics.event("unknown", "invalid")
		h.log.Warn(ctx, "dropping message on unexpected subject", "subject", subject, "error", err)
		return
	}

	p, err := protocol.Decode(route.Event, data)
	if err != nil {
		h.opts.Metrics.event(string(route.Event), "invalid")
		h.log.Warn(ctx, "invalid payload", "user_id", route.UserID, "event", route.Event, "error", err)
		h.send(ctx, h.errorTo(route.UserID, fmt.Sprintf("Invalid %s payload", route.Event))...)
		return
	}

	var out []message
	uid := route.UserID
	switch route.Event {
	case protocol.EventLocationUpdate:
		out = h.onUpdate(uid, p.(*protocol.Sample))
	case protocol.EventStartTracking:
		out = h.onTracking(uid, true)
	case protocol.EventStopTracking:
		out = h.onTracking(uid, false)
	case protocol.EventFindNearby:
		out = h.onFindNearby(ctx, uid, p.(*protocol.FindNearby))
	case protocol.EventShare:
		out = h.onShare(ctx, uid, p.(*protocol.Share))
	case protocol.EventShareAccept:
		out = h.onAnswer(ctx, uid, p.(*protocol.ShareAnswer), true)
	case protocol.EventShareReject:
		out = h.onAnswer(ctx, uid, p.(*protocol.ShareAnswer), false)
	}
	h.opts.Metrics.event(string(route.Event), "ok")
	h.send(ctx, out...)
}

// user returns the state of id, creating it. Callers hold h.mu.
func (h *Hub) user(id string) *userState {
	u, ok := h.users[id]
	if !ok {
		u = &userState{}
		h.users[id] = u
	}
	return u
}

func (h *Hub) onUpdate(uid string, s *protocol.Sample) []message {
	sample := *s

	h.mu.Lock()
	defer h.mu.Unlock()

	u := h.user(uid)
	u.latest = &sample
	if len(u.history) >= h.opts.HistorySize {
		u.history = append(u.history[len(u.history)-h.opts.HistorySize+1:], sample)
	} else {
		u.history = append(u.history, sample)
	}

	out := []message{to(uid, protocol.EventSelfUpdate, &sample)}
	for _, g := range h.grants {
		if g.state != grantAccepted {
			continue
		}
		if other, ok := g.counterpart(uid); ok {
			out = append(out, to(other, protocol.EventSharedUpdate, &protocol.SharedUpdate{
				RoomID: g.roomID,
				UserID: uid,
				Sample: sample,
			}))
		}
	}
	return out
}

func (h *Hub) onTracking(uid string, on bool) []message {
	h.mu.Lock()
	u := h.user(uid)
	if u.tracking != on {
		u.tracking = on
		if on {
			h.opts.Metrics.tracked(1)
		} else {
			h.opts.Metrics.tracked(-1)
		}
	}
	h.mu.Unlock()

	if on {
		return []message{to(uid, protocol.EventTrackingStarted, &protocol.Notice{Message: "Location tracking started"})}
	}
	return []message{to(uid, protocol.EventTrackingStopped, &protocol.Notice{Message: "Location tracking stopped"})}
}

func (h *Hub) onFindNearby(ctx context.Context, uid string, q *protocol.FindNearby) []message {
	h.mu.Lock()
	found := make([]protocol.NearbyUser, 0)
	for id, u := range h.users {
		if id == uid || !u.tracking || u.latest == nil {
			continue
		}
		d := Distance(q.Latitude, q.Longitude, u.latest.Latitude, u.latest.Longitude)
		if d > q.Radius {
			continue
		}
		found = append(found, protocol.NearbyUser{
			UserID:         id,
			Latitude:       u.latest.Latitude,
			Longitude:      u.latest.Longitude,
			DistanceMeters: d,
			LastUpdated:    u.latest.Timestamp,
		})
	}
	h.mu.Unlock()

	sort.Slice(found, func(i, j int) bool {
		if found[i].DistanceMeters != found[j].DistanceMeters {
			return found[i].DistanceMeters < found[j].DistanceMeters
		}
		return found[i].UserID < found[j].UserID
	})
	for i := range found {
		found[i].User = protocol.Identity{ID: found[i].UserID, Email: h.emailOrEmpty(ctx, found[i].UserID)}
	}
	return []message{to(uid, protocol.EventNearbyUsers, &protocol.NearbyUsers{Users: found})}
}

func (h *Hub) onShare(ctx context.Context, uid string, s *protocol.Share) []message {
	target := s.TargetUserID
	if target == uid {
		return h.errorTo(uid, "Cannot share location with yourself")
	}
	if !protocol.ValidUserID(target) {
		return h.errorTo(uid, "User not found")
	}
	if h.dir != nil {
		if _, err := h.email(ctx, target); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return h.errorTo(uid, "User not found")
			}
			h.log.Error(ctx, "share target lookup failed", "target", target, "error", err)
			return h.errorTo(uid, "Could not send share request")
		}
	}
	fromEmail := h.emailOrEmpty(ctx, uid)

	roomID := h.opts.NewRoomID()
	h.mu.Lock()
	g := &grant{roomID: roomID, from: uid, to: target, duration: s.Duration, state: grantPending}
	// an unanswered request lapses after the duration it asked for
	g.timer = h.opts.AfterFunc(g.length(), func() { h.expire(roomID, grantPending) })
	h.grants[roomID] = g
	h.mu.Unlock()
	h.opts.Metrics.grant("requested")

	return []message{to(target, protocol.EventShareRequest, &protocol.ShareRequest{
		FromUserID:    uid,
		FromUserEmail: fromEmail,
		Duration:      s.Duration,
		RoomID:        roomID,
	})}
}

func (h *Hub) onAnswer(ctx context.Context, uid string, a *protocol.ShareAnswer, accept bool) []message {
	byEmail := h.emailOrEmpty(ctx, uid)

	h.mu.Lock()
	g, ok := h.grants[a.RoomID]
	if !ok || g.state != grantPending || g.to != uid || g.from != a.FromUserID {
		h.mu.Unlock()
		return h.errorTo(uid, "Share request not found")
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	event, state := protocol.EventShareRejected, "rejected"
	if accept {
		event, state = protocol.EventShareAccepted, "accepted"
		g.state = grantAccepted
		roomID := g.roomID
		g.timer = h.opts.AfterFunc(g.length(), func() { h.expire(roomID, grantAccepted) })
	} else {
		delete(h.grants, a.RoomID)
	}
	from := g.from
	h.mu.Unlock()

	h.opts.Metrics.grant(state)
	h.log.Debug(ctx, "share answered", "room_id", a.RoomID, "state", state)
	return []message{to(from, event, &protocol.ShareResponse{
		ByUserEmail: byEmail,
		ByUserID:    uid,
		RoomID:      a.RoomID,
	})}
}

// expire ends the grant if it is still in state. Accepted grants tell both
// parties; an unanswered request is dropped quietly.
func (h *Hub) expire(roomID string, state grantState) {
	h.mu.Lock()
	g, ok := h.grants[roomID]
	if !ok || g.state != state {
		h.mu.Unlock()
		return
	}
	delete(h.grants, roomID)
	h.mu.Unlock()

	h.opts.Metrics.grant("expired")
	if state == grantPending {
		h.log.Debug(h.context(), "share request lapsed", "room_id", roomID)
		return
	}
	body := &protocol.ShareExpired{RoomID: roomID}
	h.send(h.context(),
		to(g.from, protocol.EventShareExpired, body),
		to(g.to, protocol.EventShareExpired, body),
	)
}

func (h *Hub) email(ctx context.Context, id string) (string, error) {
	h.mu.Lock()
	e, ok := h.emails[id]
	h.mu.Unlock()
	if ok || h.dir == nil {
		return e, nil
	}

	e, err := h.dir.Email(ctx, id)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.emails[id] = e
	h.mu.Unlock()
	return e, nil
}

func (h *Hub) emailOrEmpty(ctx context.Context, id string) string {
	e, err := h.email(ctx, id)
	if err != nil {
		h.log.Warn(ctx, "email lookup failed", "user_id", id, "error", err)
	}
	return e
}

func (h *Hub) errorTo(uid, msg string) []message {
	return []message{to(uid, protocol.EventLocationError, &protocol.Notice{Message: msg})}
}

func to(uid string, e protocol.Event, p protocol.Payload) message {
	return message{subject: protocol.DownSubject(uid, e), event: e, payload: p}
}

// send publishes out in order. It must not be called with h.mu held: a
// memory bus delivers synchronously and handlers may call back into the hub.
func (h *Hub) send(ctx context.Context, out ...message) {
	for _, m := range out {
		if err := h.publish(ctx, m.subject, m.event, m.payload); err != nil {
			h.log.Error(ctx, "publish failed", "subject", m.subject, "error", err)
		}
	}
}

func (h *Hub) publish(ctx context.Context, subject string, e protocol.Event, p protocol.Payload) error {
	data, err := protocol.Encode(e, p)
	if err != nil {
		return err
	}
	return h.conn.Publish(ctx, subject, data)
}

// NotifyNewOrder broadcasts a new order to every admin.
func (h *Hub) NotifyNewOrder(ctx context.Context, o protocol.OrderEvent) error {
	return h.publish(ctx, protocol.AdminSubject(protocol.EventOrderNew), protocol.EventOrderNew, &o)
}

// NotifyOrderStatus tells the order's owner about a status change.
func (h *Hub) NotifyOrderStatus(ctx context.Context, userID string, o protocol.OrderEvent) error {
	return h.publish(ctx, protocol.DownSubject(userID, protocol.EventOrderStatusUpdate), protocol.EventOrderStatusUpdate, &o)
}

func (h *Hub) NotifyPayment(ctx context.Context, userID string, o protocol.OrderEvent) error {
	return h.publish(ctx, protocol.DownSubject(userID, protocol.EventPaymentUpdate), protocol.EventPaymentUpdate, &o)
}

// Latest returns the most recent sample of userID.
func (h *Hub) Latest(userID string) (protocol.Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if u, ok := h.users[userID]; ok && u.latest != nil {
		return *u.latest, true
	}
	return protocol.Sample{}, false
}

// History returns a copy of the retained samples of userID, oldest first.
func (h *Hub) History(userID string) []protocol.Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.users[userID]
	if !ok {
		return nil
	}
	return append([]protocol.Sample(nil), u.history...)
}

func (h *Hub) Tracking(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.users[userID]
	return ok && u.tracking
}
