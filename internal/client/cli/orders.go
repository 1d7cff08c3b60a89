package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/cravecart/cravecart/internal/client/notify"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/protocol"
)

const orderFeedSize = 20

type orderNote struct {
	Event protocol.Event
	Order protocol.OrderEvent
}

// orderFeed keeps the latest order and payment events pushed to this
// session, newest last.
type orderFeed struct {
	notifier notify.Notifier

	mu     sync.Mutex
	recent []orderNote
}

func newOrderFeed(n notify.Notifier) *orderFeed {
	return &orderFeed{notifier: n}
}

func (f *orderFeed) OrderEvent(ctx context.Context, e protocol.Event, o *protocol.OrderEvent) {
	f.mu.Lock()
	f.recent = append(f.recent, orderNote{Event: e, Order: *o})
	if len(f.recent) > orderFeedSize {
		f.recent = f.recent[len(f.recent)-orderFeedSize:]
	}
	f.mu.Unlock()

	msg := fmt.Sprintf("order %s: %s", o.OrderID, o.Status)
	switch e {
	case protocol.EventOrderNew:
		msg = fmt.Sprintf("new order %s", o.OrderID)
	case protocol.EventPaymentUpdate:
		msg = fmt.Sprintf("payment for order %s: %s", o.OrderID, o.Status)
	}
	notify.Send(ctx, f.notifier, notify.Info, msg, nil)
}

func (f *orderFeed) Recent() []orderNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orderNote(nil), f.recent...)
}

// PlaceOrder places an order, optionally under the given id.
func (app *App) PlaceOrder(ctx context.Context, args []string) error {
	if !app.isLoggedIn() {
		return common.ErrNotLoggedIn
	}
	var in struct {
		OrderID string `json:"orderId,omitempty"`
	}
	if len(args) > 0 {
		in.OrderID = args[0]
	}
	var out protocol.OrderEvent
	if err := app.api.JSON(ctx, http.MethodPost, "/orders", in, &out); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Order %s placed\n", out.OrderID)
	return nil
}

// UpdateOrder sets an order's status or payment state for its owner. Admin
// only; the server enforces it.
func (app *App) UpdateOrder(ctx context.Context, args []string) error {
	if len(args) < 4 || (args[0] != "status" && args[0] != "payment") {
		return errors.New("usage: update status|payment <orderId> <userId> <status>")
	}
	if !app.isLoggedIn() {
		return common.ErrNotLoggedIn
	}
	in := struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}{UserID: args[2], Status: args[3]}

	path := "/orders/" + url.PathEscape(args[1]) + "/" + args[0]
	if err := app.api.JSON(ctx, http.MethodPost, path, in, nil); err != nil {
		return err
	}
	fmt.Fprintln(app.out, "Success!")
	return nil
}

// Orders lists the order events received in this session.
func (app *App) Orders(ctx context.Context) error {
	recent := app.orders.Recent()
	if len(recent) == 0 {
		fmt.Fprintln(app.out, "No order events yet")
		return nil
	}
	for _, n := range recent {
		fmt.Fprintf(app.out, "%-22s %-12s %s\n", n.Event, n.Order.OrderID, n.Order.Status)
	}
	return nil
}
