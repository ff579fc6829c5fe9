package authz

import (
	"log/slog"
	"net/http"

	"github.com/acesso-gov/acesso/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers. Guards receive
// the application scope and policy as constructed arguments at the route
// definition; the principal comes from the request context set by the
// authentication middleware.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require denies the request with 403 unless the current principal satisfies
// the policy within the application scope. Denials are plain 403s; only
// evaluation failures surface as 500.
func (m Middleware) Require(appCode string, policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			allowed, err := m.Service.Evaluate(r.Context(), principal, appCode, policy)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authorization guard", slog.String("app_code", appCode),
						slog.String("policy", string(policy.Kind)), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated denies the request with 403 when no authenticated
// principal is attached to the context.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := shared.PrincipalFromContext(r.Context())
		if principal == nil || !principal.IsAuthenticated() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
