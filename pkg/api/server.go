package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/andina-labs/almacen/pkg/admin"
	"github.com/andina-labs/almacen/pkg/axpert"
	"github.com/andina-labs/almacen/pkg/identity"
	"github.com/andina-labs/almacen/pkg/middleware"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/proxy"
	"github.com/andina-labs/almacen/pkg/session"
	"github.com/andina-labs/almacen/pkg/sso"
)

// Server represents the gateway API server.
type Server struct {
	router *mux.Router

	authHandlers  *AuthHandlers
	adminHandlers *admin.Handlers
	flow          *sso.Flow
	gateway       *proxy.Gateway

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates the API server and wires all routes.
func NewServer(idc *identity.Client, provider *axpert.Client,
	sessions *session.Manager, flow *sso.Flow, gateway *proxy.Gateway,
	logger *observability.Logger, metrics *observability.Metrics) *Server {

	s := &Server{
		router:        mux.NewRouter(),
		authHandlers:  NewAuthHandlers(idc, provider, sessions, logger, metrics),
		adminHandlers: admin.NewHandlers(idc, provider, sessions, logger),
		flow:          flow,
		gateway:       gateway,
		logger:        logger,
		metrics:       metrics,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Authentication routes
	s.router.HandleFunc("/api/auth/login", s.authHandlers.Login).Methods("POST")
	s.router.HandleFunc("/api/auth/logout", s.authHandlers.Logout).Methods("POST")
	s.router.HandleFunc("/api/auth/session", s.authHandlers.GetSession).Methods("GET")
	s.router.HandleFunc("/api/auth/check-status", s.authHandlers.CheckStatus).Methods("GET")

	// OAuth provider flow
	s.router.HandleFunc("/api/auth/sso", s.beginSSO).Methods("GET")
	s.router.HandleFunc(sso.CallbackPath, s.flow.HandleCallback).Methods("GET")

	// Admin approval workflow
	s.router.HandleFunc("/api/admin/pending-users", s.adminHandlers.ListPending).Methods("GET")
	s.router.HandleFunc("/api/admin/approve-user", s.adminHandlers.ApproveUser).Methods("POST")

	// Generic data proxy, all methods
	s.router.PathPrefix("/api/supabase-proxy").Handler(s.gateway)
}

// beginSSO maps the query mode onto the flow mode. Anything other than
// "linking" is a plain login flow.
func (s *Server) beginSSO(w http.ResponseWriter, r *http.Request) {
	mode := sso.ModeLogin
	if r.URL.Query().Get("mode") == string(sso.ModeLink) {
		mode = sso.ModeLink
	}
	s.flow.BeginAuthorization(w, r, mode)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler(sessions *session.Manager) http.Handler {
	var handler http.Handler = s.router
	handler = middleware.NewSession(sessions).Handler(handler)
	if s.metrics != nil {
		handler = middleware.NewMetrics(s.metrics).Handler(handler)
	}
	handler = middleware.NewLogging(s.logger).Handler(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.NewRecovery(s.logger).Handler(handler)
	return handler
}

// Router exposes the bare route table, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
