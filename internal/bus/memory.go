package bus

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process broker. Subjects are dot-separated tokens; in a
// subscription "*" matches exactly one token and a trailing ">" matches one
// or more. Messages are delivered synchronously on the publisher's
// goroutine, outside any broker lock.
type Memory struct {
	// Authenticate checks the credential presented on every (re)connect.
	// Nil accepts anything.
	Authenticate func(token string) error

	mu    sync.Mutex
	conns map[*memConn]struct{}
	dials int
}

func NewMemory() *Memory {
	return &Memory{conns: make(map[*memConn]struct{})}
}

// Dials returns how many successful connects and reconnects happened.
func (m *Memory) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// Conns returns the currently open connections.
func (m *Memory) Conns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Memory) auth(opts DialOptions) error {
	var token string
	if opts.Credential != nil {
		token = opts.Credential()
	}
	if m.Authenticate != nil {
		if err := m.Authenticate(token); err != nil {
			return ErrUnauthorized
		}
	}
	return nil
}

func (m *Memory) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.auth(opts); err != nil {
		return nil, err
	}

	c := &memConn{broker: m, opts: opts, status: StatusConnected}
	m.mu.Lock()
	m.conns[c] = struct{}{}
	m.dials++
	m.mu.Unlock()
	return c, nil
}

// Interrupt simulates a transport failure on every open connection. Each
// one runs its reconnect loop before Interrupt returns.
func (m *Memory) Interrupt() {
	m.mu.Lock()
	conns := make([]*memConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.interrupt()
	}
}

func (m *Memory) publish(subject string, data []byte) {
	m.mu.Lock()
	var targets []*memSub
	for c := range m.conns {
		c.mu.Lock()
		if c.status == StatusConnected {
			for _, s := range c.subs {
				if matchSubject(s.pattern, subject) {
					targets = append(targets, s)
				}
			}
		}
		c.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.deliver(subject, data)
	}
}

type memConn struct {
	broker *Memory
	opts   DialOptions

	mu     sync.Mutex
	status Status
	subs   []*memSub
}

func (c *memConn) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch c.Status() {
	case StatusDisconnected:
		return ErrClosed
	case StatusReconnecting:
		return ErrDisconnected
	}
	c.broker.publish(subject, append([]byte(nil), data...))
	return nil
}

func (c *memConn) Subscribe(subject string, h Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDisconnected {
		return nil, ErrClosed
	}
	s := &memSub{conn: c, pattern: subject, handler: h}
	c.subs = append(c.subs, s)
	return s, nil
}

func (c *memConn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *memConn) Close() error {
	if !c.setStatus(StatusDisconnected) {
		return nil
	}
	c.detach()
	c.notify(StatusDisconnected, nil)
	return nil
}

func (c *memConn) interrupt() {
	if !c.setStatus(StatusReconnecting) {
		return
	}
	c.notify(StatusReconnecting, ErrDisconnected)

	for i := 0; i < c.opts.MaxReconnects; i++ {
		if c.opts.ReconnectWait > 0 {
			time.Sleep(c.opts.ReconnectWait)
		}
		if c.Status() != StatusReconnecting {
			return
		}
		if err := c.broker.auth(c.opts); err != nil {
			continue
		}
		c.broker.mu.Lock()
		c.broker.dials++
		c.broker.mu.Unlock()
		if c.setStatus(StatusConnected) {
			c.notify(StatusConnected, nil)
		}
		return
	}

	if c.setStatus(StatusDisconnected) {
		c.detach()
		c.notify(StatusDisconnected, ErrDisconnected)
	}
}

// setStatus reports whether the status changed. A closed connection never
// leaves StatusDisconnected.
func (c *memConn) setStatus(s Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == s || c.status == StatusDisconnected {
		return false
	}
	c.status = s
	return true
}

func (c *memConn) detach() {
	c.broker.mu.Lock()
	delete(c.broker.conns, c)
	c.broker.mu.Unlock()
}

func (c *memConn) notify(s Status, err error) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s, err)
	}
}

type memSub struct {
	conn    *memConn
	pattern string
	handler Handler
}

func (s *memSub) deliver(subject string, data []byte) {
	s.handler(subject, data)
}

func (s *memSub) Unsubscribe() error {
	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.subs {
		if x == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	return nil
}

func matchSubject(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return i == len(p)-1 && len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}
