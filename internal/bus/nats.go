package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSDialer connects to a NATS server. The session token is sent through
// the connect handshake via nats.TokenHandler, never as part of a message.
type NATSDialer struct {
	URL string

	// Options are appended after the ones derived from DialOptions.
	Options []nats.Option
}

func (d NATSDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &natsConn{onStatus: opts.OnStatus}

	nopts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.notify(StatusReconnecting, err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			c.notify(StatusConnected, nil)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.notify(StatusDisconnected, nc.LastError())
		}),
	}
	if opts.Credential != nil {
		nopts = append(nopts, nats.TokenHandler(opts.Credential))
	}
	if dl, ok := ctx.Deadline(); ok {
		nopts = append(nopts, nats.Timeout(time.Until(dl)))
	}
	nopts = append(nopts, d.Options...)

	nc, err := nats.Connect(d.URL, nopts...)
	if err != nil {
		if err == nats.ErrAuthorization {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("bus: connect %s: %w", d.URL, err)
	}
	c.nc = nc
	return c, nil
}

type natsConn struct {
	nc       *nats.Conn
	onStatus func(Status, error)
}

func (c *natsConn) notify(s Status, err error) {
	if c.onStatus != nil {
		c.onStatus(s, err)
	}
}

func (c *natsConn) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.nc.IsClosed() {
		return ErrClosed
	}
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Subscribe(subject string, h Handler) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		h(m.Subject, m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *natsConn) Status() Status {
	switch {
	case c.nc.IsConnected():
		return StatusConnected
	case c.nc.IsReconnecting():
		return StatusReconnecting
	default:
		return StatusDisconnected
	}
}

func (c *natsConn) Close() error {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
	return nil
}
