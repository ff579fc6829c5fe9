package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/acesso-gov/acesso/internal/authz"
	"github.com/acesso-gov/acesso/internal/identity"
	"github.com/acesso-gov/acesso/internal/observability"
	"github.com/acesso-gov/acesso/internal/shared"
	"github.com/acesso-gov/acesso/internal/token"
)

// ManageIdentityPermission guards the provisioning endpoints, scoped to this
// service's own application code.
const ManageIdentityPermission = "change_identity"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	TokenService    *token.Service
	AuthzHandler    *authz.Handler
	TokenHandler    *token.Handler
	IdentityHandler *identity.Handler
	Guard           authz.Middleware
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(token.Authenticator(params.TokenService))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	adminAppCode := "ACESSO"
	if params.Config != nil && params.Config.AdminAppCode != "" {
		adminAppCode = params.Config.AdminAppCode
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/decisions/check", params.AuthzHandler.Check)
		r.Get("/permissions", params.AuthzHandler.Permissions)

		r.Route("/roles", func(r chi.Router) {
			r.Use(params.Guard.RequireAuthenticated)
			r.Get("/", params.AuthzHandler.Roles)
			r.Get("/active", params.AuthzHandler.ActiveRole)
			r.Put("/active", params.AuthzHandler.SetActiveRole)
			r.Delete("/active", params.AuthzHandler.ClearActiveRole)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Post("/validate", params.TokenHandler.Validate)
			r.Post("/refresh", params.TokenHandler.Refresh)
			r.Group(func(r chi.Router) {
				r.Use(params.Guard.RequireAuthenticated)
				r.Post("/", params.TokenHandler.Issue)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(params.Guard.Require(adminAppCode, authz.Permission(ManageIdentityPermission)))
			r.Post("/applications", params.IdentityHandler.CreateApplication)
			r.Post("/roles", params.IdentityHandler.CreateRole)
			r.Put("/roles/{roleID}/permissions", params.IdentityHandler.SetRolePermissions)
			r.Post("/assignments", params.IdentityHandler.AssignRole)
			r.Delete("/assignments", params.IdentityHandler.RemoveRole)
			r.Put("/attributes", params.IdentityHandler.SetAttribute)
			r.Delete("/attributes", params.IdentityHandler.DeleteAttribute)
		})
	})

	return r
}
