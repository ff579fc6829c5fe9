package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acesso-gov/acesso/internal/identity"
	"github.com/acesso-gov/acesso/internal/shared"
)

type fakeSnapshotSource struct {
	users map[int64]identity.User
	roles map[int64][]identity.RoleInfo
	attrs map[int64][]identity.Attribute
}

func (s *fakeSnapshotSource) UserByID(ctx context.Context, userID int64) (identity.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return identity.User{}, shared.ErrNotFound
	}
	return user, nil
}

func (s *fakeSnapshotSource) RolesForUser(ctx context.Context, userID int64, appCode string) ([]identity.RoleInfo, error) {
	var out []identity.RoleInfo
	for _, role := range s.roles[userID] {
		if role.AppCode == appCode {
			out = append(out, role)
		}
	}
	return out, nil
}

func (s *fakeSnapshotSource) AllRolesForUser(ctx context.Context, userID int64) ([]identity.RoleInfo, error) {
	return s.roles[userID], nil
}

func (s *fakeSnapshotSource) Attributes(ctx context.Context, userID int64, appCode string) ([]identity.Attribute, error) {
	var out []identity.Attribute
	for _, attr := range s.attrs[userID] {
		if appCode == "" || attr.AppCode == appCode {
			out = append(out, attr)
		}
	}
	return out, nil
}

func snapshotFixture() *fakeSnapshotSource {
	return &fakeSnapshotSource{
		users: map[int64]identity.User{
			7: {ID: 7, Email: "gestor@example.gov", IsActive: true},
		},
		roles: map[int64][]identity.RoleInfo{
			7: {
				{ID: 1, AppCode: "ACOES_PNGI", Code: "GESTOR", Name: "Gestor"},
				{ID: 5, AppCode: "SIGV", Code: "OPERADOR", Name: "Operador"},
			},
		},
		attrs: map[int64][]identity.Attribute{
			7: {
				{UserID: 7, AppCode: "ACOES_PNGI", Key: "regiao", Value: "sudeste"},
			},
		},
	}
}

func newTestTokenService(t *testing.T, store SnapshotSource, clock func() time.Time) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Store:  store,
		Secret: "test-secret-with-enough-entropy",
		TTL:    time.Hour,
		Clock:  clock,
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(ServiceConfig{Store: snapshotFixture()})
	require.Error(t, err)
}

func TestIssueValidateRoundTrip(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)
	ctx := context.Background()

	raw, issued, err := svc.Issue(ctx, 7, "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := svc.Validate(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, issued.TokenID, claims.TokenID)
	require.Equal(t, int64(7), claims.UserID)
	require.Equal(t, "gestor@example.gov", claims.Email)
	require.False(t, claims.Superuser)
	require.Empty(t, claims.AppCode)
	require.True(t, issued.IssuedAt.Equal(claims.IssuedAt))
	require.True(t, issued.ExpiresAt.Equal(claims.ExpiresAt))
	require.Equal(t, issued.Roles, claims.Roles)
	require.Len(t, claims.Attributes, 1)
	require.Equal(t, "regiao", claims.Attributes[0].Key)
	require.Equal(t, "sudeste", claims.Attributes[0].Value)
	require.True(t, claims.IsAuthenticated())
}

func TestIssueScopesSnapshotToApp(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)

	raw, _, err := svc.Issue(context.Background(), 7, "ACOES_PNGI", 0)
	require.NoError(t, err)

	claims, err := svc.Validate(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "ACOES_PNGI", claims.AppCode)
	require.Len(t, claims.Roles, 1)
	require.Equal(t, "GESTOR", claims.Roles[0].Code)

	value, ok := claims.Attribute("ACOES_PNGI", "regiao")
	require.True(t, ok)
	require.Equal(t, "sudeste", value)
}

func TestIssueUnknownUser(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)

	_, _, err := svc.Issue(context.Background(), 999, "", 0)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, snapshotFixture(), func() time.Time { return now })

	raw, _, err := svc.Issue(context.Background(), 7, "", time.Minute)
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), raw)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, err = svc.Validate(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)

	raw, _, err := svc.Issue(context.Background(), 7, "", 0)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = svc.Validate(context.Background(), tampered)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)
	other, err := NewService(ServiceConfig{Store: snapshotFixture(), Secret: "a-different-secret-entirely"})
	require.NoError(t, err)

	raw, _, err := other.Issue(context.Background(), 7, "", 0)
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)

	_, err := svc.Validate(context.Background(), "not.a.token")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTakesFreshSnapshot(t *testing.T) {
	store := snapshotFixture()
	svc := newTestTokenService(t, store, nil)
	ctx := context.Background()

	raw, issued, err := svc.Issue(ctx, 7, "ACOES_PNGI", 0)
	require.NoError(t, err)

	store.roles[7] = append(store.roles[7],
		identity.RoleInfo{ID: 2, AppCode: "ACOES_PNGI", Code: "CONSULTOR", Name: "Consultor"})

	fresh, claims, err := svc.Refresh(ctx, raw)
	require.NoError(t, err)
	require.NotEqual(t, raw, fresh)
	require.NotEqual(t, issued.TokenID, claims.TokenID)
	require.Equal(t, "ACOES_PNGI", claims.AppCode)
	require.Len(t, claims.Roles, 2, "refresh must re-snapshot entitlements")
}

func TestRefreshOfDeletedPrincipal(t *testing.T) {
	store := snapshotFixture()
	svc := newTestTokenService(t, store, nil)
	ctx := context.Background()

	raw, _, err := svc.Issue(ctx, 7, "", 0)
	require.NoError(t, err)

	delete(store.users, 7)

	_, _, err = svc.Refresh(ctx, raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshRejectsInvalidToken(t *testing.T) {
	svc := newTestTokenService(t, snapshotFixture(), nil)

	_, _, err := svc.Refresh(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrTokenInvalid)
}
