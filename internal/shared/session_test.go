package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSessionManager(client, "acesso_session", time.Hour, false), mr
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestSessionRoundTrip(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)

	sess.Set("active_role:ACOES_PNGI", "2")
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))

	cookie := sessionCookie(t, rec, sm.CookieName())
	require.NotEmpty(t, cookie.Value)

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.AddCookie(cookie)
	reloaded, err := sm.Load(ctx, second)
	require.NoError(t, err)
	require.Equal(t, "2", reloaded.Get("active_role:ACOES_PNGI"))
}

func TestSessionDeleteValue(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.Set("active_role:ACOES_PNGI", "2")
	sess.Delete("active_role:ACOES_PNGI")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.AddCookie(sessionCookie(t, rec, sm.CookieName()))
	reloaded, err := sm.Load(ctx, second)
	require.NoError(t, err)
	require.Empty(t, reloaded.Get("active_role:ACOES_PNGI"))
}

func TestSessionDestroy(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.Set("k", "v")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.False(t, mr.Exists("session:"+sess.ID))

	cookie := sessionCookie(t, rec, sm.CookieName())
	require.Negative(t, cookie.MaxAge)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.Set("k", "v")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))

	mr.FastForward(2 * time.Hour)

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.AddCookie(sessionCookie(t, rec, sm.CookieName()))
	reloaded, err := sm.Load(ctx, second)
	require.NoError(t, err)
	require.Empty(t, reloaded.Get("k"), "expired sessions start fresh")
}
