package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/metrics"
	"github.com/leadfive/ledgerview/pkg/store"
	"github.com/leadfive/ledgerview/pkg/types"
)

// StateStore is the store surface exposed over HTTP
type StateStore interface {
	Snapshot() store.Snapshot
	Subscribe(fn func(store.Snapshot)) func()
	Refresh(ctx context.Context, domains ...types.Domain) error
	ToggleLiveMode() (bool, error)
	Withdraw(ctx context.Context, amount decimal.Decimal) (*ledger.PendingTransaction, error)
	Register(ctx context.Context, referrer common.Address, level uint8) (*ledger.PendingTransaction, error)
	UpgradePackage(ctx context.Context, level uint8) (*ledger.PendingTransaction, error)
}

var _ StateStore = (*store.Store)(nil)

// ConnectFunc (re)connects the wallet and initializes the store
type ConnectFunc func(ctx context.Context) error

// Config holds server configuration
type Config struct {
	Port     int
	Log      zerolog.Logger
	Store    StateStore
	Metrics  *metrics.Metrics
	CacheTTL time.Duration
	Now      func() time.Time
	// Connect backs POST /api/connect. The route answers 501 when nil.
	Connect ConnectFunc
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	store    StateStore
	connect  ConnectFunc
	metrics  *metrics.Metrics
	cacheTTL time.Duration
	now      func() time.Time
	port     int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		store:    cfg.Store,
		connect:  cfg.Connect,
		metrics:  cfg.Metrics,
		cacheTTL: cfg.CacheTTL,
		now:      cfg.Now,
		port:     cfg.Port,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Long-lived; kept outside the request timeout
	s.router.Get("/ws", s.handleWebSocket)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/state", s.handleState)
		r.Get("/state/{domain}", s.handleDomainState)

		r.Post("/connect", s.handleConnect)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/live", s.handleToggleLive)

		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/upgrade", s.handleUpgrade)
		r.Post("/register", s.handleRegister)
	})
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
