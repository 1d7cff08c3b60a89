// Package server wires the reference backend together: Postgres-backed
// accounts, the NATS location hub and the HTTP API, plus graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/cravecart/cravecart/internal/bus"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/server/config"
	"github.com/cravecart/cravecart/internal/server/httpapi"
	"github.com/cravecart/cravecart/internal/server/hub"
	"github.com/cravecart/cravecart/internal/server/repositories/repomanager"
	"github.com/cravecart/cravecart/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	conn     bus.Conn
	users    *services.UserService
	hub      *hub.Hub
	api      *httpapi.Server
	registry *prometheus.Registry
}

// NewApp connects to Postgres and NATS, runs migrations and builds the
// services. The caller owns the returned App and must call Run.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	conn, err := bus.NATSDialer{URL: c.NATSURL}.Dial(ctx, bus.DialOptions{
		Name:          "cravecart-hub",
		Credential:    func() string { return c.ServiceToken },
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		OnStatus: func(s bus.Status, err error) {
			logger.Warn(context.Background(), "bus status changed", "status", s.String(), "error", err)
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bus init error: %w", err)
	}

	return assemble(c, logger, db, rm, conn), nil
}

func assemble(c *config.Config, logger logging.Logger, db *sql.DB, rm repomanager.RepositoryManager, conn bus.Conn) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	users := services.NewUserService(db, rm, c)
	h := hub.New(conn, users, hub.Options{
		HistorySize: c.HistorySize,
		Metrics:     hub.NewMetrics(reg),
		Logger:      logger,
	})
	api := httpapi.New(users, h, httpapi.Options{
		CORSOrigins: c.CORSOrigins,
		RateLimit:   c.RateLimit,
		Registry:    reg,
		Ready:       db.PingContext,
		Logger:      logger,
	})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		conn:     conn,
		users:    users,
		hub:      h,
		api:      api,
		registry: reg,
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a signal arrives, then shuts down
// the HTTP server, the hub, the bus connection and the database in order.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting app...", "http_addr", app.config.HTTPAddr)

	if err := app.hub.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		app.sweepTokens(gctx, app.config.TokenSweepInterval)
		return nil
	})

	err := g.Wait()
	app.close(context.WithoutCancel(ctx))
	return err
}

// sweepTokens purges expired refresh tokens every interval until ctx ends.
func (app *App) sweepTokens(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := app.users.SweepExpired(ctx)
			if err != nil {
				app.logger.Warn(ctx, "refresh token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired refresh tokens removed", "count", n)
			}
		}
	}
}

func (app *App) close(ctx context.Context) {
	if err := app.hub.Close(); err != nil {
		app.logger.Warn(ctx, "hub close", "error", err)
	}
	if err := app.conn.Close(); err != nil {
		app.logger.Warn(ctx, "bus close", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
