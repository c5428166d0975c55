package server

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"recycler/core/state"
	"recycler/native/recycler"
)

// Service is the recycler surface the HTTP layer drives.
type Service interface {
	Initialized() (bool, error)
	Recycle(caller, asset common.Address, payment *big.Int) (*recycler.RecycleResult, error)
	Claim(caller common.Address) (*big.Int, error)
	SetParams(caller common.Address, params recycler.Params) error
	TransferOwnership(caller, successor common.Address) error
	AcceptOwnership(caller common.Address) error
	CurrentWeightPrice() (*big.Int, error)
	QuoteUnitsToConsume(asset common.Address, payment *big.Int) (*big.Int, error)
	QuoteNativeForUnitsCeil(asset common.Address, units *big.Int) (*big.Int, error)
	Position(participant common.Address) (*recycler.Position, error)
	Totals() (*recycler.Totals, error)
	Params() (recycler.Params, error)
	Owner() (common.Address, common.Address, error)
	Events(offset, limit uint64) ([]state.EventRecord, uint64, error)
	Audit() error
}

// Config wires the listener and the request guards.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RateLimit     RateLimit
	// ShutdownGrace bounds how long in-flight requests may drain.
	ShutdownGrace time.Duration
}

// Server exposes the recycler over HTTP.
type Server struct {
	cfg      Config
	svc      Service
	auth     *Authenticator
	limiter  *RateLimiter
	notifier *Notifier
	archive  EventArchive
	logger   *slog.Logger
	handler  http.Handler
}

// Option attaches optional collaborators.
type Option func(*Server)

// WithEventStream enables the websocket event stream.
func WithEventStream(n *Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// WithArchive enables filtered queries over archived events.
func WithArchive(a EventArchive) Option {
	return func(s *Server) { s.archive = a }
}

func New(cfg Config, svc Service, logger *slog.Logger, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("recyclerd: service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = otelhttp.NewHandler(s.routes(), "recyclerd")
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Get("/price", s.handlePrice)
			r.Get("/quote/units", s.handleQuoteUnits)
			r.Get("/quote/native", s.handleQuoteNative)
			r.Get("/pending/{address}", s.handlePending)
			r.Get("/totals", s.handleTotals)
			r.Get("/params", s.handleGetParams)
			r.Get("/events", s.handleEvents)
			r.Get("/events/stream", s.handleEventStream)
			r.Get("/archive/events", s.handleArchiveEvents)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(s.limiter.Middleware)
			r.Post("/recycle", s.handleRecycle)
			r.Post("/claim", s.handleClaim)
			r.Post("/ownership/accept", s.handleAcceptOwnership)
			r.Route("/admin", func(r chi.Router) {
				r.Put("/params", s.handleSetParams)
				r.Post("/ownership/transfer", s.handleTransferOwnership)
				r.Get("/audit", s.handleAudit)
			})
		})
	})
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("recyclerd: listening", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("recyclerd: shutdown", "error", err)
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
