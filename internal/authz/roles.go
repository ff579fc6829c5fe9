package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/acesso-gov/acesso/internal/identity"
	"github.com/acesso-gov/acesso/internal/shared"
)

// ErrRoleNotHeld reports an attempt to pin an active role the user is not
// assigned. It indicates a caller bug, not an access-control denial.
var ErrRoleNotHeld = errors.New("authz: role not held")

// SessionData is the scoped key-value store that carries active-role pins.
// *shared.Session satisfies it; adapters may pass any equivalent store.
type SessionData interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
}

// RoleResolver lists a user's roles per application and manages the
// session-pinned active role.
type RoleResolver struct {
	store  IdentityStore
	logger *slog.Logger
}

// NewRoleResolver constructs a RoleResolver.
func NewRoleResolver(store IdentityStore, logger *slog.Logger) *RoleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{store: store, logger: logger}
}

// ActiveRoleKey formats the session key pinning the active role for an
// application.
func ActiveRoleKey(appCode string) string {
	return "active_role:" + appCode
}

// RolesForApp returns the roles the principal holds in one application,
// ordered by role code. Unauthenticated principals hold no roles.
func (r *RoleResolver) RolesForApp(ctx context.Context, principal shared.Principal, appCode string) ([]identity.RoleInfo, error) {
	if principal == nil || !principal.IsAuthenticated() {
		return nil, nil
	}
	roles, err := r.store.RolesForUser(ctx, principal.GetID(), appCode)
	if err != nil {
		return nil, err
	}
	// The store already orders by code; re-assert so the ActiveRole
	// fallback stays deterministic regardless of backend.
	sort.Slice(roles, func(i, j int) bool { return roles[i].Code < roles[j].Code })
	return roles, nil
}

// AllRoles returns the principal's roles grouped by application code.
func (r *RoleResolver) AllRoles(ctx context.Context, principal shared.Principal) (map[string][]identity.RoleInfo, error) {
	if principal == nil || !principal.IsAuthenticated() {
		return map[string][]identity.RoleInfo{}, nil
	}
	roles, err := r.store.AllRolesForUser(ctx, principal.GetID())
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]identity.RoleInfo)
	for _, role := range roles {
		grouped[role.AppCode] = append(grouped[role.AppCode], role)
	}
	for appCode := range grouped {
		list := grouped[appCode]
		sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
	}
	return grouped, nil
}

// ActiveRole resolves the role the principal currently operates as in one
// application. A valid session pin wins; otherwise the first held role in
// code order. Nil when the principal holds no role in the application.
func (r *RoleResolver) ActiveRole(ctx context.Context, principal shared.Principal, appCode string, sess SessionData) (*identity.RoleInfo, error) {
	roles, err := r.RolesForApp(ctx, principal, appCode)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, nil
	}

	if sess != nil {
		if raw := sess.Get(ActiveRoleKey(appCode)); raw != "" {
			pinned, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				r.logger.Warn("discarding malformed active role pin",
					slog.String("app_code", appCode), slog.String("value", raw))
			} else {
				for i := range roles {
					if roles[i].ID == pinned {
						return &roles[i], nil
					}
				}
				// The pinned role was revoked since it was set.
			}
		}
	}
	return &roles[0], nil
}

// SetActiveRole pins the active role for an application in the session. It
// fails with ErrRoleNotHeld, without touching the session, when the
// principal does not hold the role.
func (r *RoleResolver) SetActiveRole(ctx context.Context, principal shared.Principal, appCode string, roleID int64, sess SessionData) error {
	if principal == nil || !principal.IsAuthenticated() {
		return fmt.Errorf("role %d in %s: %w", roleID, appCode, ErrRoleNotHeld)
	}
	held, err := r.store.HoldsRole(ctx, principal.GetID(), appCode, roleID)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("role %d in %s: %w", roleID, appCode, ErrRoleNotHeld)
	}
	sess.Set(ActiveRoleKey(appCode), strconv.FormatInt(roleID, 10))
	return nil
}

// ClearActiveRole drops the active-role pin for an application.
func (r *RoleResolver) ClearActiveRole(appCode string, sess SessionData) {
	if sess == nil {
		return
	}
	sess.Delete(ActiveRoleKey(appCode))
}

// HighestRole walks the caller-supplied hierarchy from highest to lowest
// priority and returns the first role the principal actually holds, or nil.
func (r *RoleResolver) HighestRole(ctx context.Context, principal shared.Principal, appCode string, hierarchy []string) (*identity.RoleInfo, error) {
	roles, err := r.RolesForApp(ctx, principal, appCode)
	if err != nil {
		return nil, err
	}
	held := make(map[string]*identity.RoleInfo, len(roles))
	for i := range roles {
		held[roles[i].Code] = &roles[i]
	}
	for _, code := range hierarchy {
		if role, ok := held[code]; ok {
			return role, nil
		}
	}
	return nil, nil
}
