package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/cravecart/cravecart/internal/client/api"
	"github.com/cravecart/cravecart/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for email, name and password and creates an account.
// A successful registration logs the new user in.
func (app *App) Register(ctx context.Context) error {
	email, err := getSimpleText(app.reader, "Enter email", app.out)
	if err != nil {
		return err
	}
	name, err := getSimpleText(app.reader, "Enter name (optional)", app.out)
	if err != nil {
		return err
	}
	password, err := getPassword(app.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	claims, err := app.authService.Register(ctx, api.Credentials{Email: email, Password: string(password), Name: name})
	if err != nil {
		return err
	}

	fmt.Fprintf(app.out, "Welcome, %s!\n", claims.Email)
	app.refreshMode()
	return nil
}

// Login prompts for credentials and starts a session. The realtime channel
// failing to connect does not fail the login; the mode shows offline.
func (app *App) Login(ctx context.Context) error {
	if app.isLoggedIn() {
		return fmt.Errorf("%w: already logged in, logout first", common.ErrPrecondition)
	}
	email, err := getSimpleText(app.reader, "Enter email", app.out)
	if err != nil {
		return err
	}
	password, err := getPassword(app.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	claims, err := app.authService.Login(ctx, email, string(password))
	if err != nil {
		return err
	}

	fmt.Fprintf(app.out, "Logged in as %s (%s)\n", claims.Email, claims.Role)
	app.refreshMode()
	return nil
}

func (app *App) Logout(ctx context.Context) error {
	if err := app.authService.Logout(ctx); err != nil {
		return err
	}
	app.refreshMode()
	return nil
}

// Me calls the authenticated profile endpoint. An expired access token is
// refreshed transparently on the way.
func (app *App) Me(ctx context.Context) error {
	if !app.isLoggedIn() {
		return common.ErrNotLoggedIn
	}
	u, err := app.api.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "id:    %s\nemail: %s\nrole:  %s\n", u.ID, u.Email, u.Role)
	if u.Name != "" {
		fmt.Fprintf(app.out, "name:  %s\n", u.Name)
	}
	return nil
}

// restore resumes the session saved by a previous run, if any.
func (app *App) restore(ctx context.Context) {
	claims, err := app.authService.Restore(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(app.out, "Welcome back, %s\n", claims.Email)
	case errors.Is(err, common.ErrNotLoggedIn):
		fmt.Fprintln(app.out, "Not logged in, type 'login' or 'register'")
	default:
		// the service already told the user why the session ended
		app.log.Warn(ctx, "session not restored", "error", err)
	}
	app.refreshMode()
}
