// Package server provides the HTTP API: chat turns, tool resumption,
// challenge approval, audit queries, document sharing, and connection
// management.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/aegis/internal/agent"
	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/authz"
	"github.com/dativo-io/aegis/internal/gateway"
	"github.com/dativo-io/aegis/internal/identity"
	"github.com/dativo-io/aegis/internal/otel"
	"github.com/dativo-io/aegis/internal/stepup"
	"github.com/dativo-io/aegis/internal/tokenvault"
)

const defaultTimeout = 60 * time.Second

// chatTimeout is longer than the default because one chat turn may span
// several model calls.
const chatTimeout = 5 * time.Minute

// Server holds all dependencies for the HTTP API.
type Server struct {
	router     *chi.Mux
	agent      *agent.Agent
	gateway    *gateway.Gateway
	auditStore *audit.Store
	challenges *stepup.Store
	vault      *tokenvault.Vault
	authzStore *authz.Store
	identities *identity.Registry
	startTime  time.Time
}

// NewServer builds a Server with the required dependencies.
func NewServer(
	a *agent.Agent,
	gw *gateway.Gateway,
	auditStore *audit.Store,
	challenges *stepup.Store,
	vault *tokenvault.Vault,
	authzStore *authz.Store,
	identities *identity.Registry,
) *Server {
	return &Server{
		router:     chi.NewRouter(),
		agent:      a,
		gateway:    gw,
		auditStore: auditStore,
		challenges: challenges,
		vault:      vault,
		authzStore: authzStore,
		identities: identities,
		startTime:  time.Now(),
	}
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.identities))

		// Chat turns span several model calls; no short request timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(chatTimeout))
			r.Post("/v1/chat", s.handleChat)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))

			// Resume a gated tool call with an approved challenge.
			r.Post("/v1/invocations", s.handleInvoke)

			r.Get("/v1/audit", s.handleAuditList)
			r.Get("/v1/audit/counts", s.handleAuditCounts)
			r.Get("/v1/audit/{id}", s.handleAuditGet)
			r.Get("/v1/audit/{id}/verify", s.handleAuditVerify)

			r.Get("/v1/challenges", s.handleChallengesList)
			r.Post("/v1/challenges/{id}/approve", s.handleChallengeApprove)
			r.Post("/v1/challenges/{id}/deny", s.handleChallengeDeny)

			r.Get("/v1/connections", s.handleConnectionsList)
			r.Post("/v1/connections", s.handleConnectionLink)
			r.Delete("/v1/connections/{name}", s.handleConnectionUnlink)

			r.Post("/v1/documents/{id}/relations", s.handleRelationGrant)
			r.Delete("/v1/documents/{id}/relations", s.handleRelationRevoke)
		})
	})

	return r
}
