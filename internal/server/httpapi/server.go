// Package httpapi is the REST surface of the backend: account registration,
// login, refresh-token rotation, the bearer-protected profile call and the
// order notification endpoints that feed the realtime hub.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/protocol"
	"github.com/cravecart/cravecart/internal/server/auth"
	"github.com/cravecart/cravecart/internal/server/models"
	"github.com/cravecart/cravecart/internal/server/services"
)

// UserService is the account logic behind the auth routes.
type UserService interface {
	Register(ctx context.Context, email, password, name string) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Me(ctx context.Context, userID string) (*models.User, error)
	Authenticate(token string) (*auth.Claims, error)
}

// OrderNotifier pushes order events to connected clients.
type OrderNotifier interface {
	NotifyNewOrder(ctx context.Context, o protocol.OrderEvent) error
	NotifyOrderStatus(ctx context.Context, userID string, o protocol.OrderEvent) error
	NotifyPayment(ctx context.Context, userID string, o protocol.OrderEvent) error
}

type Options struct {
	CORSOrigins []string

	// RateLimit caps auth requests per client IP and minute; zero disables it.
	RateLimit int

	// Registry receives the HTTP metrics and is served on /metrics.
	Registry *prometheus.Registry

	// Ready backs /healthz, typically a database ping.
	Ready func(ctx context.Context) error

	NewOrderID func() string
	Logger     logging.Logger
}

type Server struct {
	users   UserService
	orders  OrderNotifier
	opts    Options
	log     logging.Logger
	metrics *httpMetrics
}

func New(users UserService, orders OrderNotifier, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.NewOrderID == nil {
		opts.NewOrderID = newOrderID
	}
	return &Server{
		users:   users,
		orders:  orders,
		opts:    opts,
		log:     opts.Logger.With("module", "httpapi"),
		metrics: newHTTPMetrics(opts.Registry),
	}
}

// Handler is the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Routes(), "cravecart-api")
}

// Routes constructs the chi router containing all API endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
			}
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh-token", s.handleRefresh)
		})
		r.With(s.requireAuth).Get("/me", s.handleMe)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/", s.handlePlaceOrder)
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/{id}/status", s.handleOrderUpdate(protocol.EventOrderStatusUpdate))
			r.Post("/{id}/payment", s.handleOrderUpdate(protocol.EventPaymentUpdate))
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.log.Warn(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
