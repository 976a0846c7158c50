// Package api exposes the ledger over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ledger-engine/pkg/history"
	"ledger-engine/pkg/ledger"
	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/metrics"
	"ledger-engine/pkg/model"
	"ledger-engine/pkg/money"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Ledger is the account ledger the server drives.
type Ledger interface {
	OpenAccount(ctx context.Context, ownerID string) (model.Account, error)
	Deposit(ctx context.Context, ownerID string, amount money.Amount, description string) (ledger.Result, error)
	Withdraw(ctx context.Context, ownerID string, amount money.Amount, description string) (ledger.Result, error)
	Balance(ctx context.Context, ownerID string) (ledger.Balance, error)
}

// History is the transaction query engine the server drives.
type History interface {
	All(ctx context.Context, ownerID string, f history.Filter) ([]model.Transaction, error)
	Recent(ctx context.Context, ownerID string, limit int) ([]model.Transaction, error)
	Page(ctx context.Context, ownerID string, f history.Filter, page, pageSize int) (history.Page, error)
	Summary(ctx context.Context, ownerID string, f history.Filter) (history.Summary, error)
}

// Server is the ledger HTTP API.
type Server struct {
	ledger   Ledger
	history  History
	identity IdentityResolver
	metrics  metrics.Collector
	logger   *logging.Logger
	config   ServerConfig
	router   *mux.Router
	server   *http.Server
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// RequestTimeout bounds the ledger work done for one request
	RequestTimeout time.Duration

	// RecentLimit is the default limit of /account/transactions/recent
	RecentLimit int

	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		RequestTimeout: 10 * time.Second,
		RecentLimit:    5,
	}
}

// Options carries optional server dependencies.
type Options struct {
	// Identity resolves the caller (default: X-Owner-ID header)
	Identity IdentityResolver
	Logger   *logging.Logger
	Metrics  metrics.Collector
}

// NewServer creates the API server.
func NewServer(l Ledger, h History, config ServerConfig, opts Options) *Server {
	if config.RecentLimit <= 0 {
		config.RecentLimit = 5
	}
	identity := opts.Identity
	if identity == nil {
		identity = HeaderIdentity{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}

	s := &Server{
		ledger:   l,
		history:  h,
		identity: identity,
		metrics:  metrics.OrNoOp(opts.Metrics),
		logger:   logger.Named("api"),
		config:   config,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog, s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.config.MetricsHandler != nil {
		r.Handle("/metrics", s.config.MetricsHandler).Methods(http.MethodGet)
	}

	s.mountLedger(r)
	s.mountLedger(r.PathPrefix("/api/v1").Subrouter())

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (s *Server) mountLedger(r *mux.Router) {
	r.Handle("/accounts", s.authenticated(s.handleOpenAccount)).Methods(http.MethodPost)

	account := r.PathPrefix("/account").Subrouter()
	account.Handle("/balance", s.authenticated(s.handleBalance)).Methods(http.MethodGet)
	account.Handle("/deposit", s.authenticated(s.handleDeposit)).Methods(http.MethodPost)
	account.Handle("/withdraw", s.authenticated(s.handleWithdraw)).Methods(http.MethodPost)
	account.Handle("/transactions", s.authenticated(s.handleTransactions)).Methods(http.MethodGet)
	account.Handle("/transactions/recent", s.authenticated(s.handleRecent)).Methods(http.MethodGet)
	account.Handle("/summary", s.authenticated(s.handleSummary)).Methods(http.MethodGet)
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(startTime).String(),
	})
}

var startTime = time.Now()
