package authz

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acesso-gov/acesso/internal/shared"
)

func checkBody(t *testing.T, rec *httptest.ResponseRecorder) bool {
	t.Helper()
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Allowed
}

func postCheck(t *testing.T, h *Handler, principal shared.Principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/decisions/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), principal))
	}
	rec := httptest.NewRecorder()
	h.Check(rec, req)
	return rec
}

func TestCheckEndpoint(t *testing.T) {
	store := newFakeStore()
	store.perms[permKey(7, "ACOES_PNGI")] = []string{"view_eixo"}
	h := NewHandler(newTestService(t, store), nil)

	rec := postCheck(t, h, testPrincipal{id: 7},
		`{"app_code":"ACOES_PNGI","policy":{"kind":"permission","codenames":["view_eixo"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, checkBody(t, rec))

	rec = postCheck(t, h, testPrincipal{id: 7},
		`{"app_code":"ACOES_PNGI","policy":{"kind":"permission","codenames":["delete_eixo"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, checkBody(t, rec))

	// Denials are decisions, not errors: anonymous gets 200 with allowed=false.
	rec = postCheck(t, h, nil,
		`{"app_code":"ACOES_PNGI","policy":{"kind":"permission","codenames":["view_eixo"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, checkBody(t, rec))
}

func TestCheckEndpointRejectsBadInput(t *testing.T) {
	h := NewHandler(newTestService(t, newFakeStore()), nil)

	rec := postCheck(t, h, testPrincipal{id: 7}, `{broken`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postCheck(t, h, testPrincipal{id: 7},
		`{"policy":{"kind":"permission","codenames":["view_eixo"]}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postCheck(t, h, testPrincipal{id: 7},
		`{"app_code":"ACOES_PNGI","policy":{"kind":"wildcard"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissionsEndpoint(t *testing.T) {
	store := newFakeStore()
	store.perms[permKey(7, "ACOES_PNGI")] = []string{"view_eixo", "add_eixo"}
	h := NewHandler(newTestService(t, store), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/permissions?app_code=ACOES_PNGI", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), testPrincipal{id: 7}))
	rec := httptest.NewRecorder()
	h.Permissions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"add_eixo", "view_eixo"}, resp.Permissions)
}

func TestSetActiveRoleEndpointConflict(t *testing.T) {
	h := NewHandler(newTestService(t, rolesFixture()), nil)

	req := httptest.NewRequest(http.MethodPut, "/v1/roles/active",
		strings.NewReader(`{"app_code":"ACOES_PNGI","role_id":999}`))
	ctx := shared.ContextWithPrincipal(req.Context(), testPrincipal{id: 7})
	ctx = shared.ContextWithSession(ctx, &shared.Session{})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	h.SetActiveRole(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}
