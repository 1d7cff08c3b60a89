// Package realtime owns the session's single authenticated connection to
// the event bus.
//
// A Channel connects at most once per session. Inbound events are decoded
// and validated against their protocol schema before any handler sees them;
// invalid ones are dropped with a warning. The connection re-authenticates
// on every reconnect with the token current at that moment, so a refresh or
// logout in between is reflected.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cravecart/cravecart/internal/bus"
	"github.com/cravecart/cravecart/internal/client/notify"
	"github.com/cravecart/cravecart/internal/client/session"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/protocol"
)

// Handler receives a validated inbound payload, always a pointer type from
// package protocol.
type Handler func(ctx context.Context, p protocol.Payload)

// OrderSink consumes order and payment events, e.g. to invalidate cached
// order lists.
type OrderSink interface {
	OrderEvent(ctx context.Context, e protocol.Event, o *protocol.OrderEvent)
}

type Options struct {
	Dialer bus.Dialer

	// Credential returns the access token current at reconnect time.
	Credential func() string

	MaxReconnects int
	ReconnectWait time.Duration

	Orders   OrderSink
	Notifier notify.Notifier
	Logger   logging.Logger
}

type Channel struct {
	opts Options
	log  logging.Logger

	mu   sync.Mutex
	conn *Connection

	hmu      sync.RWMutex
	handlers map[protocol.Event]map[uint64]Handler
	statusFn map[uint64]func(bus.Status)
	nextID   uint64
}

// Connection is one live transport for one identity.
type Connection struct {
	conn     bus.Conn
	identity *session.Claims
	subs     []bus.Subscription
}

func (c *Connection) Identity() *session.Claims { return c.identity }
func (c *Connection) UserID() string            { return c.identity.ID }

func New(opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Channel{
		opts:     opts,
		log:      opts.Logger.With("module", "realtime"),
		handlers: make(map[protocol.Event]map[uint64]Handler),
		statusFn: make(map[uint64]func(bus.Status)),
	}
}

// Connect opens the connection for the identity in token. While connected
// it returns the existing connection and dials nothing.
func (ch *Channel) Connect(ctx context.Context, token string) (*Connection, error) {
	c, fresh, err := ch.connect(ctx, token)
	if err != nil {
		return nil, err
	}
	if fresh {
		ch.log.Info(ctx, "channel connected", "user_id", c.UserID(), "admin", c.identity.IsAdmin())
		ch.emitStatus(bus.StatusConnected)
	}
	return c, nil
}

func (ch *Channel) connect(ctx context.Context, token string) (*Connection, bool, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.conn != nil {
		return ch.conn, false, nil
	}

	claims, err := session.Decode(token)
	if err != nil {
		return nil, false, err
	}
	if !protocol.ValidUserID(claims.ID) {
		return nil, false, fmt.Errorf("%w: id %q is not addressable", common.ErrDecode, claims.ID)
	}

	c := &Connection{identity: claims}

	// the first dial presents the token we were given; reconnects ask for
	// the current one
	var dialed atomic.Bool
	cred := func() string {
		if !dialed.Load() || ch.opts.Credential == nil {
			return token
		}
		return ch.opts.Credential()
	}

	conn, err := ch.opts.Dialer.Dial(ctx, bus.DialOptions{
		Name:          "cravecart-client-" + claims.ID,
		Credential:    cred,
		MaxReconnects: ch.opts.MaxReconnects,
		ReconnectWait: ch.opts.ReconnectWait,
		OnStatus:      func(s bus.Status, err error) { ch.onStatus(c, s, err) },
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	dialed.Store(true)
	c.conn = conn

	subjects := []string{protocol.DownWildcard(claims.ID)}
	if claims.IsAdmin() {
		subjects = append(subjects, protocol.AdminWildcard())
	}
	for _, s := range subjects {
		sub, err := conn.Subscribe(s, func(subject string, data []byte) { ch.dispatch(c, subject, data) })
		if err != nil {
			_ = conn.Close()
			return nil, false, fmt.Errorf("%w: subscribe %s: %v", common.ErrTransport, s, err)
		}
		c.subs = append(c.subs, sub)
	}

	ch.conn = c
	return c, true, nil
}

// Disconnect closes the connection. It is a no-op when not connected.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	c := ch.conn
	ch.conn = nil
	ch.mu.Unlock()

	if c == nil {
		return
	}
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	_ = c.conn.Close()
	ch.log.Info(context.Background(), "channel disconnected", "user_id", c.UserID())
	ch.emitStatus(bus.StatusDisconnected)
}

// Connection returns the live connection or nil.
func (ch *Channel) Connection() *Connection {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn
}

func (ch *Channel) Status() bus.Status {
	c := ch.Connection()
	if c == nil {
		return bus.StatusDisconnected
	}
	return c.conn.Status()
}

func (ch *Channel) Connected() bool {
	return ch.Status() == bus.StatusConnected
}

// On registers fn for inbound event e and returns a function that removes
// it.
func (ch *Channel) On(e protocol.Event, fn Handler) (off func()) {
	ch.hmu.Lock()
	defer ch.hmu.Unlock()

	ch.nextID++
	id := ch.nextID
	if ch.handlers[e] == nil {
		ch.handlers[e] = make(map[uint64]Handler)
	}
	ch.handlers[e][id] = fn

	return func() {
		ch.hmu.Lock()
		defer ch.hmu.Unlock()
		delete(ch.handlers[e], id)
	}
}

// OnStatus registers fn for connection status changes.
func (ch *Channel) OnStatus(fn func(bus.Status)) (off func()) {
	ch.hmu.Lock()
	defer ch.hmu.Unlock()

	ch.nextID++
	id := ch.nextID
	ch.statusFn[id] = fn
	return func() {
		ch.hmu.Lock()
		defer ch.hmu.Unlock()
		delete(ch.statusFn, id)
	}
}

// Emit publishes an outbound event. The payload is validated first.
func (ch *Channel) Emit(ctx context.Context, e protocol.Event, p protocol.Payload) error {
	if e.Direction() != protocol.Outbound {
		return fmt.Errorf("%w: %s is not a client event", protocol.ErrUnknownEvent, e)
	}
	c := ch.Connection()
	if c == nil {
		return fmt.Errorf("%w: not connected", common.ErrTransport)
	}

	data, err := protocol.Encode(e, p)
	if err != nil {
		return err
	}
	if err := c.conn.Publish(ctx, protocol.UpSubject(c.UserID(), e), data); err != nil {
		return fmt.Errorf("%w: emit %s: %v", common.ErrTransport, e, err)
	}
	ch.log.Debug(ctx, "emitted", "event", e)
	return nil
}

func (ch *Channel) dispatch(c *Connection, subject string, data []byte) {
	ctx := context.Background()

	r, err := protocol.ParseSubject(subject)
	if err != nil || r.Direction != protocol.Inbound {
		ch.log.Warn(ctx, "dropped message on unexpected subject", "subject", subject, "error", err)
		return
	}
	if r.Event.AdminOnly() && !c.identity.IsAdmin() {
		ch.log.Warn(ctx, "dropped admin event for non-admin", "event", r.Event)
		return
	}

	p, err := protocol.Decode(r.Event, data)
	if err != nil {
		ch.log.Warn(ctx, "dropped invalid payload", "event", r.Event, "error", err)
		return
	}

	if o, ok := p.(*protocol.OrderEvent); ok && ch.opts.Orders != nil {
		ch.opts.Orders.OrderEvent(ctx, r.Event, o)
	}

	ch.hmu.RLock()
	fns := make([]Handler, 0, len(ch.handlers[r.Event]))
	for _, fn := range ch.handlers[r.Event] {
		fns = append(fns, fn)
	}
	ch.hmu.RUnlock()

	for _, fn := range fns {
		fn(ctx, p)
	}
}

func (ch *Channel) onStatus(c *Connection, s bus.Status, err error) {
	ctx := context.Background()

	switch s {
	case bus.StatusReconnecting:
		ch.log.Warn(ctx, "channel interrupted, reconnecting", "error", err)
		notify.Send(ctx, ch.opts.Notifier, notify.Warn, "connection lost, reconnecting", nil)
	case bus.StatusConnected:
		ch.log.Info(ctx, "channel reconnected")
		notify.Send(ctx, ch.opts.Notifier, notify.Info, "reconnected", nil)
	case bus.StatusDisconnected:
		if err == nil {
			// closed by Disconnect
			return
		}
		ch.mu.Lock()
		if ch.conn == c {
			ch.conn = nil
		}
		ch.mu.Unlock()
		ch.log.Error(ctx, "channel lost", "error", err)
		notify.Send(ctx, ch.opts.Notifier, notify.Error, "disconnected", fmt.Errorf("%w: %v", common.ErrTransport, err))
	}
	ch.emitStatus(s)
}

func (ch *Channel) emitStatus(s bus.Status) {
	ch.hmu.RLock()
	fns := make([]func(bus.Status), 0, len(ch.statusFn))
	for _, fn := range ch.statusFn {
		fns = append(fns, fn)
	}
	ch.hmu.RUnlock()

	for _, fn := range fns {
		fn(s)
	}
}
