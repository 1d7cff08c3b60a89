package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/protocol"
)

func (app *App) Track(ctx context.Context) error {
	if !app.isLoggedIn() {
		return common.ErrNotLoggedIn
	}
	if err := app.location.StartTracking(ctx); err != nil {
		return err
	}
	fmt.Fprintln(app.out, "Tracking started")
	return nil
}

func (app *App) Untrack(ctx context.Context) error {
	app.location.StopTracking(ctx)
	fmt.Fprintln(app.out, "Tracking stopped")
	return nil
}

// Nearby asks for users within the radius in meters, or the configured
// default. Results are printed when the server answers.
func (app *App) Nearby(ctx context.Context, args []string) error {
	radius := app.config.NearbyRadius
	if len(args) > 0 {
		r, err := strconv.ParseFloat(args[0], 64)
		if err != nil || r <= 0 {
			return errors.New("usage: nearby [radius in meters]")
		}
		radius = r
	}
	return app.location.FindNearbyUsers(ctx, radius)
}

func (app *App) printNearby(users []protocol.NearbyUser) {
	if len(users) == 0 {
		fmt.Fprintln(app.out, "Nobody nearby")
		return
	}
	fmt.Fprintf(app.out, "%d user(s) nearby:\n", len(users))
	for _, u := range users {
		who := u.UserID
		if u.User.Email != "" {
			who = fmt.Sprintf("%s <%s>", u.UserID, u.User.Email)
		}
		fmt.Fprintf(app.out, "  %-40s %8.0f m  (%.5f, %.5f)\n", who, u.DistanceMeters, u.Latitude, u.Longitude)
	}
}

// Where prints the local reading and the position the server last
// confirmed.
func (app *App) Where(ctx context.Context) error {
	fmt.Fprintf(app.out, "tracking: %s\n", app.location.State())
	printSample(app, "device", app.location.Current())
	printSample(app, "server", app.location.Self())
	return nil
}

func printSample(app *App, label string, s *protocol.Sample) {
	if s == nil {
		fmt.Fprintf(app.out, "%s:   unknown\n", label)
		return
	}
	fmt.Fprintf(app.out, "%s:   %.5f, %.5f", label, s.Latitude, s.Longitude)
	if s.Accuracy != nil {
		fmt.Fprintf(app.out, " (±%.0f m)", *s.Accuracy)
	}
	fmt.Fprintln(app.out)
}

// GPS turns the simulated positioning source on or off, or reports it.
func (app *App) GPS(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "on":
			app.gps.SetEnabled(true)
		case "off":
			app.gps.SetEnabled(false)
		default:
			return errors.New("usage: gps [on|off]")
		}
	}
	state := "off"
	if app.gps.Available() {
		state = "on"
	}
	fmt.Fprintf(app.out, "gps: %s\n", state)
	return nil
}
