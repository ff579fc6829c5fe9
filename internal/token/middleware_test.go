package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acesso-gov/acesso/internal/shared"
)

func TestAuthenticatorAttachesPrincipal(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)
	raw, _, err := svc.Issue(context.Background(), 7, "", 0)
	require.NoError(t, err)

	var principal shared.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = shared.PrincipalFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	Authenticator(svc)(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), principal.GetID())
	require.True(t, principal.IsAuthenticated())
}

func TestAuthenticatorRejectsInvalidToken(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached with invalid credentials")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	Authenticator(svc)(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorPassesAnonymousThrough(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)

	var principal shared.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = shared.PrincipalFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/permissions", nil)
	rec := httptest.NewRecorder()
	Authenticator(svc)(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, principal.IsAuthenticated(), "missing credentials resolve to the anonymous principal")
}
