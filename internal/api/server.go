// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/adapter"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/dispatch"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/job"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/ratelimit"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/storage"
	"github.com/gorilla/mux"
)

// DispatchService runs batches and single conversation sends
type DispatchService interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Response, error)
	SendToConversation(ctx context.Context, req dispatch.ConversationRequest) (*dispatch.ConversationResult, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	config     *ServerConfig
	logger     *logging.Logger

	dispatcher DispatchService
	registry   *account.Registry
	accounts   storage.AccountStore
	sessions   adapter.SessionManager
	jobs       *job.Manager
	ledger     *billing.Ledger
	reporter   *stats.Reporter
	bus        *events.Bus
	inbound    chan<- adapter.InboundEvent
	limiter    *ratelimit.Limiter
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  float64
	Burst           int
	// AdminToken guards the gateway webhook, credit top-ups and diagnostics. Empty disables the check.
	AdminToken    string
	SubscriberBuf int
	// Location buckets date-only query bounds. Nil means UTC.
	Location *time.Location
	// DefaultCountryCode fills dispatch requests that leave it empty
	DefaultCountryCode string
}

// Deps are the collaborators the handlers call into. Sessions may be nil
// when no gateway is configured.
type Deps struct {
	Dispatcher DispatchService
	Registry   *account.Registry
	Accounts   storage.AccountStore
	Sessions   adapter.SessionManager
	Jobs       *job.Manager
	Ledger     *billing.Ledger
	Reporter   *stats.Reporter
	Bus        *events.Bus
	Inbound    chan<- adapter.InboundEvent
	// Limiter is optional; it feeds the diagnostics endpoint
	Limiter *ratelimit.Limiter
	Logger  *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.SubscriberBuf <= 0 {
		config.SubscriberBuf = 64
	}

	s := &Server{
		router:     mux.NewRouter(),
		config:     config,
		logger:     logger.WithField("component", "api"),
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		accounts:   deps.Accounts,
		sessions:   deps.Sessions,
		jobs:       deps.Jobs,
		ledger:     deps.Ledger,
		reporter:   deps.Reporter,
		bus:        deps.Bus,
		inbound:    deps.Inbound,
		limiter:    deps.Limiter,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Dispatch
	api.HandleFunc("/dispatch", s.requireUser(s.handleDispatch)).Methods("POST")
	api.HandleFunc("/conversations/send", s.handleSendToConversation).Methods("POST")

	// Jobs
	api.HandleFunc("/jobs", s.requireUser(s.handleListJobs)).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.requireUser(s.handleGetJob)).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/accounts", s.handleAddAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", s.handleRenameAccount).Methods("PUT")
	api.HandleFunc("/accounts/{id}", s.handleDeleteAccount).Methods("DELETE")
	api.HandleFunc("/accounts/{id}/reconnect", s.handleReconnectAccount).Methods("POST")

	// Event log and stats
	api.HandleFunc("/logs", s.handleLogs).Methods("GET")
	api.HandleFunc("/stats/timeseries", s.handleTimeseries).Methods("GET")
	api.HandleFunc("/stats/accounts", s.handleAccountStats).Methods("GET")

	// Credit
	api.HandleFunc("/me", s.requireUser(s.handleMe)).Methods("GET")
	api.HandleFunc("/credit/topup", s.requireAdmin(s.handleTopUp)).Methods("POST")

	// Gateway callbacks
	s.router.HandleFunc("/webhooks/gateway", s.requireAdmin(s.handleGatewayWebhook)).Methods("POST")

	// Operator diagnostics
	api.HandleFunc("/diagnostics", s.requireAdmin(s.handleDiagnostics)).Methods("GET")

	// Preflight requests are answered by CORSMiddleware
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Router exposes the handler, mainly for tests
func (s *Server) Router() http.Handler { return s.router }

// handleHealth reports per-account readiness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.registry.Status()
	accounts := st.Accounts
	if accounts == nil {
		accounts = []account.Status{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"service":  "dispatch-orchestrator",
		"anyReady": st.AnyReady,
		"accounts": accounts,
	})
}

// userFromRequest returns the caller's username
func userFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if userFromRequest(r) == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required", nil)
			return
		}
		next(w, r)
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken != "" {
			token := r.Header.Get("X-Gateway-Token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if token != s.config.AdminToken {
				respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token", nil)
				return
			}
		}
		next(w, r)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
