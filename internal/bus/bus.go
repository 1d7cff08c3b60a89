// Package bus is the realtime transport: a subject-addressed publish and
// subscribe connection with connect-time credentials and bounded automatic
// reconnection. NATSDialer is the production implementation; Memory is an
// in-process broker with the same subject semantics.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed       = errors.New("bus: connection closed")
	ErrDisconnected = errors.New("bus: connection interrupted")
	ErrUnauthorized = errors.New("bus: credential rejected")
)

// Status is the connection state reported to DialOptions.OnStatus.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Handler receives one message. NATS delivers sequentially per
// subscription; Memory delivers on the publisher's goroutine, so handlers
// must be safe for concurrent use.
type Handler func(subject string, data []byte)

type DialOptions struct {
	// Name identifies the connection in server-side monitoring.
	Name string

	// Credential is called for the initial connect and again on every
	// reconnect, so a refreshed session token is picked up without redialing.
	Credential func() string

	MaxReconnects int
	ReconnectWait time.Duration

	// OnStatus observes transitions after the initial connect. A final
	// StatusDisconnected carries the error that exhausted reconnection, or
	// nil when Close was called.
	OnStatus func(Status, error)
}

type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, h Handler) (Subscription, error)
	Status() Status
	Close() error
}

type Subscription interface {
	Unsubscribe() error
}
