// Package rpc exposes the bounty ledger over a JSON HTTP API.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zkbounty/core/types"
	"zkbounty/native/bounty"
	"zkbounty/storage/eventlog"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 15 * time.Second
	maxRequestBodyBytes = 1 << 20
)

// Ledger is the set of ledger operations served over HTTP. core.Dispatcher
// implements it.
type Ledger interface {
	RegisterIssuer(ctx context.Context, caller types.Principal) error
	SubmitBounty(ctx context.Context, caller types.Principal, bountyType uint8, reward *uint256.Int, commitment types.Digest, value *uint256.Int) (*bounty.Bounty, error)
	RegisterToBounty(ctx context.Context, caller types.Principal, id types.Digest) error
	SubmitReport(ctx context.Context, caller types.Principal, id types.Digest, digest types.Digest) error
	FinalizeReport(ctx context.Context, caller types.Principal, id types.Digest, hunter types.Principal, candidate types.Digest) (bool, error)
	WithdrawUnapprovedBounty(ctx context.Context, caller types.Principal, id types.Digest) (*bounty.Bounty, error)

	IsRegisteredIssuer(ctx context.Context, addr types.Principal) (bool, error)
	GetBounty(ctx context.Context, id types.Digest) (*bounty.Bounty, error)
	GetBountyReward(ctx context.Context, id types.Digest) (*uint256.Int, error)
	GetBountyIDs(ctx context.Context) ([]types.Digest, error)
	GetBountyAtIndex(ctx context.Context, i uint64) (types.Digest, error)
	GetReportHash(ctx context.Context, id types.Digest, hunter types.Principal) (types.Digest, error)
	GetHuntersInBounty(ctx context.Context, id types.Digest) ([]types.Principal, error)
	GetSubmittedReportsInBounty(ctx context.Context, id types.Digest) ([]bounty.Submission, error)
	Balance(ctx context.Context, addr types.Principal) (*uint256.Int, error)
	EscrowBalance(ctx context.Context, id types.Digest) (*uint256.Int, error)
	VaultBalance(ctx context.Context) (*uint256.Int, error)
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Auth         AuthConfig
}

// Server routes HTTP requests to the ledger.
type Server struct {
	ledger Ledger
	broker *eventlog.Broker
	auth   *Authenticator
	logger *slog.Logger
	cfg    ServerConfig

	handler http.Handler

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer builds the router. broker may be nil, in which case the event
// endpoints answer 503.
func NewServer(ledger Ledger, broker *eventlog.Broker, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bountyd"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	s := &Server{
		ledger: ledger,
		broker: broker,
		auth:   NewAuthenticator(cfg.Auth, logger),
		logger: logger,
		cfg:    cfg,
	}
	s.handler = otelhttp.NewHandler(s.routes(), cfg.ServiceName)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/issuers", func(r chi.Router) {
			r.With(s.auth.Middleware).Post("/", s.handleRegisterIssuer)
			r.Get("/{address}", s.handleIsRegisteredIssuer)
		})
		r.Route("/bounties", func(r chi.Router) {
			r.Get("/", s.handleListBounties)
			r.With(s.auth.Middleware).Post("/", s.handleSubmitBounty)
			r.Get("/index/{index}", s.handleBountyAtIndex)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBounty)
				r.With(s.auth.Middleware).Delete("/", s.handleWithdrawBounty)
				r.Get("/reward", s.handleBountyReward)
				r.Get("/escrow", s.handleBountyEscrow)
				r.Get("/hunters", s.handleListHunters)
				r.With(s.auth.Middleware).Post("/hunters", s.handleRegisterHunter)
				r.Get("/reports", s.handleListReports)
				r.With(s.auth.Middleware).Post("/reports", s.handleSubmitReport)
				r.Get("/reports/{hunter}", s.handleReportHash)
				r.With(s.auth.Middleware).Post("/finalize", s.handleFinalize)
			})
		})
		r.Get("/accounts/{address}", s.handleAccount)
		r.Get("/vault", s.handleVault)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleEventsWS)
	})
	return r
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	if listener == nil {
		return errors.New("rpc: listener required")
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	s.logger.Info("http server listening", slog.String("address", listener.Addr().String()))
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe binds addr and serves on it.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
