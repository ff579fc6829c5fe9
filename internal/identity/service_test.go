package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acesso-gov/acesso/internal/shared"
)

type fakeWriteStore struct {
	apps        map[string]Application
	roles       map[int64]RoleInfo
	grants      map[int64][]int64
	assignments map[int64][]int64
	attrs       map[string]string
	nextID      int64
	perms       map[string]Permission
}

func newFakeWriteStore() *fakeWriteStore {
	return &fakeWriteStore{
		apps:        make(map[string]Application),
		roles:       make(map[int64]RoleInfo),
		grants:      make(map[int64][]int64),
		assignments: make(map[int64][]int64),
		attrs:       make(map[string]string),
		perms:       make(map[string]Permission),
	}
}

func (s *fakeWriteStore) CreateApplication(ctx context.Context, code, name string) (Application, error) {
	if _, ok := s.apps[code]; ok {
		return Application{}, shared.ErrDuplicate
	}
	s.nextID++
	app := Application{ID: s.nextID, Code: code, Name: name}
	s.apps[code] = app
	return app, nil
}

func (s *fakeWriteStore) CreateRole(ctx context.Context, appCode, code, name string) (Role, error) {
	app, ok := s.apps[appCode]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	s.nextID++
	s.roles[s.nextID] = RoleInfo{ID: s.nextID, AppCode: appCode, Code: code, Name: name}
	return Role{ID: s.nextID, ApplicationID: app.ID, AppCode: appCode, Code: code, Name: name}, nil
}

func (s *fakeWriteStore) EnsurePermission(ctx context.Context, appCode, codename string) (Permission, error) {
	key := appCode + ":" + codename
	if perm, ok := s.perms[key]; ok {
		return perm, nil
	}
	s.nextID++
	perm := Permission{ID: s.nextID, Codename: codename}
	s.perms[key] = perm
	return perm, nil
}

func (s *fakeWriteStore) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	s.grants[roleID] = permissionIDs
	return nil
}

func (s *fakeWriteStore) AssignRole(ctx context.Context, userID, roleID int64) error {
	s.assignments[userID] = append(s.assignments[userID], roleID)
	return nil
}

func (s *fakeWriteStore) RemoveRole(ctx context.Context, userID, roleID int64) error {
	kept := s.assignments[userID][:0]
	for _, id := range s.assignments[userID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	s.assignments[userID] = kept
	return nil
}

func (s *fakeWriteStore) SetAttribute(ctx context.Context, userID int64, appCode, key, value string) error {
	s.attrs[appCode+":"+key] = value
	return nil
}

func (s *fakeWriteStore) DeleteAttribute(ctx context.Context, userID int64, appCode, key string) error {
	delete(s.attrs, appCode+":"+key)
	return nil
}

func (s *fakeWriteStore) RoleByID(ctx context.Context, roleID int64) (RoleInfo, error) {
	role, ok := s.roles[roleID]
	if !ok {
		return RoleInfo{}, shared.ErrNotFound
	}
	return role, nil
}

type recordingInvalidator struct {
	users []int64
	roles []int64
	fail  bool
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, userID int64, appCode string) error {
	if r.fail {
		return errors.New("redis unavailable")
	}
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingInvalidator) InvalidateForRole(ctx context.Context, roleID int64) error {
	if r.fail {
		return errors.New("redis unavailable")
	}
	r.roles = append(r.roles, roleID)
	return nil
}

type recordingEnqueuer struct {
	roles []int64
}

func (r *recordingEnqueuer) EnqueueRoleInvalidation(ctx context.Context, roleID int64) error {
	r.roles = append(r.roles, roleID)
	return nil
}

func provisioned(t *testing.T, svc *Service) (appCode string, roleID int64) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.CreateApplication(ctx, CreateApplicationInput{Code: "ACOES_PNGI", Name: "Ações PNGI"})
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, CreateRoleInput{AppCode: "ACOES_PNGI", Code: "GESTOR", Name: "Gestor"})
	require.NoError(t, err)
	return "ACOES_PNGI", role.ID
}

func TestCreateApplicationValidation(t *testing.T) {
	svc := NewService(newFakeWriteStore(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateApplication(ctx, CreateApplicationInput{Code: "acoes_pngi", Name: "lowercase code"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateApplication(ctx, CreateApplicationInput{Name: "missing code"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateApplication(ctx, CreateApplicationInput{Code: "ACOES_PNGI", Name: "Ações PNGI"})
	require.NoError(t, err)

	_, err = svc.CreateApplication(ctx, CreateApplicationInput{Code: "ACOES_PNGI", Name: "again"})
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestSetRolePermissionsRejectsBadCodenames(t *testing.T) {
	svc := NewService(newFakeWriteStore(), nil, nil, nil)
	_, roleID := provisioned(t, svc)

	err := svc.SetRolePermissions(context.Background(), SetRolePermissionsInput{
		RoleID:    roleID,
		Codenames: []string{"view_eixo", "DeleteEixo"},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetRolePermissionsInvalidatesRole(t *testing.T) {
	store := newFakeWriteStore()
	inv := &recordingInvalidator{}
	svc := NewService(store, inv, nil, nil)
	_, roleID := provisioned(t, svc)

	err := svc.SetRolePermissions(context.Background(), SetRolePermissionsInput{
		RoleID:    roleID,
		Codenames: []string{"view_eixo", "add_eixo"},
	})
	require.NoError(t, err)
	require.Len(t, store.grants[roleID], 2)
	require.Equal(t, []int64{roleID}, inv.roles)
}

func TestSetRolePermissionsFallsBackToEnqueue(t *testing.T) {
	store := newFakeWriteStore()
	enq := &recordingEnqueuer{}
	svc := NewService(store, &recordingInvalidator{fail: true}, enq, nil)
	_, roleID := provisioned(t, svc)

	err := svc.SetRolePermissions(context.Background(), SetRolePermissionsInput{
		RoleID:    roleID,
		Codenames: []string{"view_eixo"},
	})
	require.NoError(t, err, "invalidation failure must not fail the write")
	require.Equal(t, []int64{roleID}, enq.roles, "failed sync invalidation must enqueue the fanout")
}

func TestAssignRoleInvalidatesUser(t *testing.T) {
	store := newFakeWriteStore()
	inv := &recordingInvalidator{}
	svc := NewService(store, inv, nil, nil)
	_, roleID := provisioned(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, 7, roleID))
	require.Equal(t, []int64{roleID}, store.assignments[7])
	require.Equal(t, []int64{7}, inv.users)

	require.NoError(t, svc.RemoveRole(ctx, 7, roleID))
	require.Empty(t, store.assignments[7])
	require.Equal(t, []int64{7, 7}, inv.users)
}

func TestAssignRoleUnknownRole(t *testing.T) {
	svc := NewService(newFakeWriteStore(), nil, nil, nil)

	err := svc.AssignRole(context.Background(), 7, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetAttribute(t *testing.T) {
	store := newFakeWriteStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	err := svc.SetAttribute(ctx, SetAttributeInput{UserID: 7, AppCode: "ACOES_PNGI", Key: "regiao", Value: "sudeste"})
	require.NoError(t, err)
	require.Equal(t, "sudeste", store.attrs["ACOES_PNGI:regiao"])

	err = svc.SetAttribute(ctx, SetAttributeInput{AppCode: "ACOES_PNGI", Key: "regiao"})
	require.ErrorIs(t, err, shared.ErrValidation, "user id is required")

	require.NoError(t, svc.DeleteAttribute(ctx, 7, "ACOES_PNGI", "regiao"))
	require.Empty(t, store.attrs)
}
