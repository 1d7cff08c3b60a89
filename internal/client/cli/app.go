package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cravecart/cravecart/internal/bus"
	"github.com/cravecart/cravecart/internal/client/api"
	"github.com/cravecart/cravecart/internal/client/config"
	"github.com/cravecart/cravecart/internal/client/location"
	"github.com/cravecart/cravecart/internal/client/notify"
	"github.com/cravecart/cravecart/internal/client/positioning"
	"github.com/cravecart/cravecart/internal/client/realtime"
	"github.com/cravecart/cravecart/internal/client/reauth"
	"github.com/cravecart/cravecart/internal/client/services"
	"github.com/cravecart/cravecart/internal/client/session"
	"github.com/cravecart/cravecart/internal/client/sharing"
	"github.com/cravecart/cravecart/internal/client/storage"
	"github.com/cravecart/cravecart/internal/client/tokenstore"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/protocol"
	"github.com/cravecart/cravecart/internal/telemetry"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

// Locator is the part of location.Session the commands use.
type Locator interface {
	StartTracking(ctx context.Context) error
	StopTracking(ctx context.Context)
	FindNearbyUsers(ctx context.Context, radius float64) error
	Current() *protocol.Sample
	Self() *protocol.Sample
	Nearby() []protocol.NearbyUser
	State() location.State
	Close(ctx context.Context)
}

// Sharer is the part of sharing.Coordinator the commands use.
type Sharer interface {
	ShareLocation(ctx context.Context, target string, minutes int) error
	Accept(ctx context.Context, roomID string) error
	Reject(ctx context.Context, roomID string) error
	Grants() []sharing.Grant
	Shared(roomID string) (protocol.SharedUpdate, bool)
	Close()
}

// API is the authenticated REST client.
type API interface {
	Me(ctx context.Context) (*api.User, error)
	JSON(ctx context.Context, method, path string, in, out any) error
	Raw(ctx context.Context, method, path string) ([]byte, error)
}

// Link reports the realtime channel state.
type Link interface {
	Status() bus.Status
	Connected() bool
}

// GPS switches the simulated positioning source.
type GPS interface {
	Available() bool
	SetEnabled(v bool)
}

type App struct {
	config      *config.Config
	log         logging.Logger
	out         io.Writer
	reader      *bufio.Reader
	authService services.AuthService
	api         API
	link        Link
	location    Locator
	sharing     Sharer
	gps         GPS
	orders      *orderFeed

	// closers run in reverse order on Close
	closers []func(context.Context)

	modeMu sync.Mutex
	Mode   Mode
}

// NewApp wires the session components: token store on the local database,
// the refresh gate in front of the REST client, the realtime channel and
// the location and sharing layers on top of it.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewText(os.Stderr, slog.LevelWarn)
	app := &App{
		config: c,
		log:    logger.With("module", "cli"),
		out:    os.Stdout,
		reader: bufio.NewReader(os.Stdin),
		Mode:   ModeDisabled,
	}

	shutdown, err := telemetry.Init(ctx, "cravecart-cli", c.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	app.onClose(func(ctx context.Context) { _ = shutdown(ctx) })

	db, err := storage.Open(ctx, c.DBPath)
	if err != nil {
		app.log.Error(ctx, "error initializing database", "path", c.DBPath, "error", err)
		app.Close(ctx)
		return nil, err
	}
	app.onClose(func(context.Context) { _ = db.Close() })

	if err := app.wire(ctx, db, logger); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (app *App) wire(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	c := app.config
	notifier := notify.Multi{notify.NewPrinter(app.out), notify.NewLog(logger)}

	store := tokenstore.New(db, tokenstore.Options{
		RefreshRetention: c.RefreshRetention,
		Secure:           c.Production(),
		Logger:           logger,
	})

	base := otelhttp.NewTransport(http.DefaultTransport)
	authAPI := api.NewAuth(c.APIBaseURL, base)

	var svc services.AuthService
	gate := reauth.New(store, authAPI, reauth.Options{
		Base: base,
		OnLogout: func(ctx context.Context, cause error) {
			svc.EndSession(ctx, cause)
		},
		Logger: logger,
	})
	app.api = api.NewClient(c.APIBaseURL, gate)

	dialer, err := app.dialer(ctx, logger)
	if err != nil {
		return err
	}

	app.orders = newOrderFeed(notifier)
	channel := realtime.New(realtime.Options{
		Dialer:        dialer,
		Credential:    func() string { return store.Get().AccessToken },
		MaxReconnects: c.MaxReconnects,
		ReconnectWait: c.ReconnectWait,
		Orders:        app.orders,
		Notifier:      notifier,
		Logger:        logger,
	})
	app.link = channel
	app.onClose(func(context.Context) { channel.Disconnect() })
	off := channel.OnStatus(func(bus.Status) { app.refreshMode() })
	app.onClose(func(context.Context) { off() })

	gps := positioning.NewSimulator(c.StartLatitude, c.StartLongitude, positioning.SimulatorOptions{})
	app.gps = gps

	loc := location.New(channel, gps, location.Options{
		PollInterval: c.PollInterval,
		OnNearby:     app.printNearby,
		Notifier:     notifier,
		Logger:       logger,
	})
	app.location = loc
	app.onClose(loc.Close)

	sh := sharing.New(channel, sharing.Options{
		Self:     app.selfID,
		Notifier: notifier,
		Logger:   logger,
	})
	app.sharing = sh
	app.onClose(func(context.Context) { sh.Close() })

	svc = services.NewAuthService(authAPI, store, channel, services.AuthOptions{
		Tracker:  loc,
		Sharing:  sh,
		Notifier: notifier,
		Logger:   logger,
	})
	app.authService = svc
	return nil
}

// dialer returns the NATS dialer, or an in-process hub on a memory bus when
// the local mode is on.
func (app *App) dialer(ctx context.Context, logger logging.Logger) (bus.Dialer, error) {
	if !app.config.Local {
		return bus.NATSDialer{URL: app.config.NATSURL}, nil
	}
	lh, err := startLocalHub(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("local hub: %w", err)
	}
	app.onClose(func(context.Context) { lh.Close() })
	return lh.bus, nil
}

func (app *App) onClose(fn func(context.Context)) {
	app.closers = append(app.closers, fn)
}

// Close releases everything NewApp acquired. The stored session is kept so
// the next start can restore it.
func (app *App) Close(ctx context.Context) {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i](ctx)
	}
	app.closers = nil
}

func (app *App) Run(ctx context.Context) {
	defer app.Close(context.WithoutCancel(ctx))
	app.Root(ctx)
}

func (app *App) identity() *session.Claims {
	if app.authService == nil {
		return nil
	}
	return app.authService.Identity()
}

func (app *App) selfID() string {
	if c := app.identity(); c != nil {
		return c.ID
	}
	return ""
}

func (app *App) isLoggedIn() bool {
	return app.identity() != nil
}

func (app *App) setMode(mode Mode) {
	app.modeMu.Lock()
	changed := app.Mode != mode
	app.Mode = mode
	app.modeMu.Unlock()

	if changed {
		app.log.Info(context.Background(), "mode changed", "mode", mode)
		fmt.Fprintf(app.out, "Switched to %s mode\n", mode)
	}
}

// refreshMode derives the mode from the session and the channel state.
func (app *App) refreshMode() {
	switch {
	case !app.isLoggedIn():
		app.setMode(ModeDisabled)
	case app.link != nil && app.link.Connected():
		app.setMode(ModeOnline)
	default:
		app.setMode(ModeOffline)
	}
}

func (app *App) mode() Mode {
	app.modeMu.Lock()
	defer app.modeMu.Unlock()
	return app.Mode
}
