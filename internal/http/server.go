package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/authclient"
	"github.com/Clark-Hu/bitebox/internal/config"
	"github.com/Clark-Hu/bitebox/internal/events"
	"github.com/Clark-Hu/bitebox/internal/gate"
	"github.com/Clark-Hu/bitebox/internal/metrics"
	"github.com/Clark-Hu/bitebox/internal/profilecache"
	"github.com/Clark-Hu/bitebox/internal/repository"
	"github.com/Clark-Hu/bitebox/internal/session"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps bundles the collaborators of the HTTP server.
type Deps struct {
	Config   config.Config
	Health   HealthChecker
	Repo     *repository.Repository
	Auth     authclient.Client
	Sessions *session.CookieProvider
	Gate     *gate.Gate
	Profiles profilecache.Cache
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	health   HealthChecker
	repo     *repository.Repository
	auth     authclient.Client
	sessions *session.CookieProvider
	gate     *gate.Gate
	profiles profilecache.Cache
	events   events.Publisher
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	// The gate sits on the root router so unmatched paths are gated too.
	if deps.Gate != nil {
		r.Use(deps.Gate.Middleware)
	}

	s := &Server{
		cfg:      deps.Config,
		health:   deps.Health,
		repo:     deps.Repo,
		auth:     deps.Auth,
		sessions: deps.Sessions,
		gate:     deps.Gate,
		profiles: deps.Profiles,
		events:   deps.Events,
		metrics:  deps.Metrics,
		gatherer: gatherer,
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.registerPages(s.router)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/signup", s.handleSignUp)
			r.Post("/logout", s.handleLogout)
			r.Post("/forgot-password", s.handleForgotPassword)
		})
		r.Get("/me", s.handleMe)

		r.Get("/restaurants", s.handleListRestaurants)
		r.Get("/restaurants/{id}", s.handleGetRestaurant)
		r.Get("/profiles/{userID}", s.handleGetProfile)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/restaurants/{id}/ratings", s.handleRateRestaurant)
			r.Post("/dishes/{id}/ratings", s.handleRateDish)
			r.Get("/me/ratings", s.handleMyRatings)
			r.Put("/profile", s.handleUpdateProfile)
		})
	})

	s.router.Route("/admin/api", func(r chi.Router) {
		r.Use(s.requireAdminPassphrase)
		r.Post("/restaurants", s.handleCreateRestaurant)
		r.Put("/restaurants/{id}", s.handleUpdateRestaurant)
		r.Delete("/restaurants/{id}", s.handleDeleteRestaurant)
		r.Post("/restaurants/{id}/dishes", s.handleCreateDish)
		r.Delete("/dishes/{id}", s.handleDeleteDish)
	})
}

// Start boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health == nil || s.health.HealthCheck(ctx) != nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
