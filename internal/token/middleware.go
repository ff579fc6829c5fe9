package token

import (
	"net/http"
	"strings"

	"github.com/acesso-gov/acesso/internal/shared"
)

// Authenticator extracts and validates the bearer token, attaching the
// resulting principal to the request context. Requests without credentials
// proceed as the anonymous principal; decision predicates deny those on
// their own. Presented-but-invalid credentials are rejected with 401.
func Authenticator(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := service.Validate(r.Context(), raw)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := shared.ContextWithPrincipal(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
