package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cravecart/cravecart/internal/client/sharing"
	"github.com/cravecart/cravecart/internal/common"
)

// Share asks another user to receive our location for some minutes.
func (app *App) Share(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: share <userId> <minutes>")
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: minutes must be a number", common.ErrPrecondition)
	}
	if err := app.sharing.ShareLocation(ctx, args[0], minutes); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Share request sent to %s\n", args[0])
	return nil
}

func (app *App) Accept(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: accept <roomId>")
	}
	if err := app.sharing.Accept(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Accepted share %s\n", args[0])
	return nil
}

func (app *App) Reject(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: reject <roomId>")
	}
	if err := app.sharing.Reject(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Rejected share %s\n", args[0])
	return nil
}

// Grants lists sharing requests and grants with the counterpart's last
// relayed position, if any.
func (app *App) Grants(ctx context.Context) error {
	grants := app.sharing.Grants()
	if len(grants) == 0 {
		fmt.Fprintln(app.out, "No shares")
		return nil
	}
	for _, g := range grants {
		fmt.Fprintln(app.out, formatGrant(g))
		if g.RoomID == "" {
			continue
		}
		if u, ok := app.sharing.Shared(g.RoomID); ok {
			fmt.Fprintf(app.out, "    last seen at %.5f, %.5f\n", u.Sample.Latitude, u.Sample.Longitude)
		}
	}
	return nil
}

func formatGrant(g sharing.Grant) string {
	room := g.RoomID
	if room == "" {
		room = "-"
	}
	if g.Outgoing {
		return fmt.Sprintf("  to   %-36s %3d min  %-9s room %s", g.ToUserID, g.DurationMinutes, g.State, room)
	}
	who := g.FromUserID
	if g.FromUserEmail != "" {
		who = g.FromUserEmail
	}
	return fmt.Sprintf("  from %-36s %3d min  %-9s room %s", who, g.DurationMinutes, g.State, room)
}
