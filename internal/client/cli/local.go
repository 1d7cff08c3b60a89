package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cravecart/cravecart/internal/bus"
	"github.com/cravecart/cravecart/internal/client/session"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/server/hub"
)

// localHub runs the location hub in process on a memory bus. Every client
// of the bus is authenticated by decoding its token; the hub learns user
// emails from the tokens it has seen.
type localHub struct {
	bus  *bus.Memory
	conn bus.Conn
	hub  *hub.Hub
	dir  *tokenDirectory
}

func startLocalHub(ctx context.Context, logger logging.Logger) (*localHub, error) {
	dir := &tokenDirectory{emails: make(map[string]string), now: time.Now}
	mem := bus.NewMemory()

	// the hub's own connection carries no token
	conn, err := mem.Dial(ctx, bus.DialOptions{Name: "cravecart-local-hub"})
	if err != nil {
		return nil, err
	}
	mem.Authenticate = dir.learn

	h := hub.New(conn, dir, hub.Options{Logger: logger})
	if err := h.Start(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &localHub{bus: mem, conn: conn, hub: h, dir: dir}, nil
}

func (l *localHub) Close() {
	_ = l.hub.Close()
	_ = l.conn.Close()
}

// tokenDirectory resolves user ids seen in presented tokens.
type tokenDirectory struct {
	now func() time.Time

	mu     sync.Mutex
	emails map[string]string
}

func (d *tokenDirectory) learn(token string) error {
	c, err := session.Decode(token)
	if err != nil {
		return err
	}
	if session.IsExpired(c, d.now()) {
		return common.ErrSessionExpired
	}
	d.mu.Lock()
	d.emails[c.ID] = c.Email
	d.mu.Unlock()
	return nil
}

func (d *tokenDirectory) Email(_ context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.emails[userID]
	if !ok {
		return "", fmt.Errorf("%w: user %s", common.ErrorNotFound, userID)
	}
	return e, nil
}
