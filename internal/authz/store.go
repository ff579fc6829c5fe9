package authz

import (
	"context"

	"github.com/acesso-gov/acesso/internal/identity"
)

// IdentityStore is the read contract the authorization core needs from the
// identity database. *identity.Repository satisfies it; tests supply
// in-memory fakes.
type IdentityStore interface {
	RolesForUser(ctx context.Context, userID int64, appCode string) ([]identity.RoleInfo, error)
	AllRolesForUser(ctx context.Context, userID int64) ([]identity.RoleInfo, error)
	PermissionsForUser(ctx context.Context, userID int64, appCode string) ([]string, error)
	UsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
	RoleByID(ctx context.Context, roleID int64) (identity.RoleInfo, error)
	HoldsRole(ctx context.Context, userID int64, appCode string, roleID int64) (bool, error)
	AttributeValue(ctx context.Context, userID int64, appCode, key string) (string, bool, error)
	ApplicationCodes(ctx context.Context) ([]string, error)
}
