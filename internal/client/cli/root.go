package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cravecart/cravecart/internal/common"
)

func (app *App) getStatus() string {
	s := ""
	if c := app.identity(); c != nil {
		s = c.Email + " "
	}
	if m := app.mode(); m != "" {
		s = s + string(m)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root restores the previous session and runs the REPL on stdin until the
// user exits.
func (app *App) Root(ctx context.Context) {
	fmt.Fprintln(app.out, "Welcome to CraveCart CLI (type 'help' for commands)")
	app.restore(ctx)
	runREPL(ctx, app, app.getStatus, bufio.NewScanner(lineReader{app.reader}))
}

// Status prints the session, channel and tracking state.
func (app *App) Status(ctx context.Context) error {
	app.refreshMode()
	who := "-"
	if c := app.identity(); c != nil {
		who = fmt.Sprintf("%s (%s, %s)", c.Email, c.ID, c.Role)
	}
	fmt.Fprintf(app.out, "user:     %s\n", who)
	fmt.Fprintf(app.out, "mode:     %s\n", app.mode())
	fmt.Fprintf(app.out, "channel:  %s\n", app.link.Status())
	fmt.Fprintf(app.out, "tracking: %s\n", app.location.State())
	return nil
}

// Get performs an authenticated GET against the API and prints the body.
func (app *App) Get(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: get <path>")
	}
	if !app.isLoggedIn() {
		return common.ErrNotLoggedIn
	}
	path := args[0]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	body, err := app.api.Raw(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.out, string(body))
	return nil
}
