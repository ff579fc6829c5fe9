package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acesso-gov/acesso/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the identity store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RolesForUser returns the roles a user holds in one application, ordered by
// role code so callers observe a stable enumeration.
func (r *Repository) RolesForUser(ctx context.Context, userID int64, appCode string) ([]RoleInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ro.id, a.code, ro.code, ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		JOIN applications a ON a.id = ro.application_id
		WHERE ur.user_id = $1 AND a.code = $2
		ORDER BY ro.code`, userID, appCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoleInfos(rows)
}

// AllRolesForUser returns every role the user holds across all applications,
// ordered by application code then role code.
func (r *Repository) AllRolesForUser(ctx context.Context, userID int64) ([]RoleInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ro.id, a.code, ro.code, ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		JOIN applications a ON a.id = ro.application_id
		WHERE ur.user_id = $1
		ORDER BY a.code, ro.code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoleInfos(rows)
}

// PermissionsForUser returns the deduplicated permission codenames granted by
// the user's roles in one application. Unknown applications and roleless
// users yield an empty slice.
func (r *Repository) PermissionsForUser(ctx context.Context, userID int64, appCode string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.codename
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		JOIN applications a ON a.id = ro.application_id
		JOIN role_permissions rp ON rp.role_id = ro.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1 AND a.code = $2
		ORDER BY p.codename`, userID, appCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codenames []string
	for rows.Next() {
		var codename string
		if err := rows.Scan(&codename); err != nil {
			return nil, err
		}
		codenames = append(codenames, codename)
	}
	return codenames, rows.Err()
}

// UsersWithRole returns the IDs of every user assigned the given role.
func (r *Repository) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RoleByID fetches a role projection by primary key.
func (r *Repository) RoleByID(ctx context.Context, roleID int64) (RoleInfo, error) {
	var info RoleInfo
	err := r.pool.QueryRow(ctx, `
		SELECT ro.id, a.code, ro.code, ro.name
		FROM roles ro
		JOIN applications a ON a.id = ro.application_id
		WHERE ro.id = $1`, roleID).Scan(&info.ID, &info.AppCode, &info.Code, &info.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleInfo{}, shared.ErrNotFound
		}
		return RoleInfo{}, err
	}
	return info, nil
}

// HoldsRole reports whether the user is assigned the role in the given
// application.
func (r *Repository) HoldsRole(ctx context.Context, userID int64, appCode string, roleID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_roles ur
			JOIN roles ro ON ro.id = ur.role_id
			JOIN applications a ON a.id = ro.application_id
			WHERE ur.user_id = $1 AND a.code = $2 AND ur.role_id = $3
		)`, userID, appCode, roleID).Scan(&exists)
	return exists, err
}

// Attributes returns the user's ABAC facts, optionally scoped to one
// application. An empty appCode fetches every application.
func (r *Repository) Attributes(ctx context.Context, userID int64, appCode string) ([]Attribute, error) {
	query := `
		SELECT ua.user_id, a.code, ua.key, COALESCE(ua.value, '')
		FROM user_attributes ua
		JOIN applications a ON a.id = ua.application_id
		WHERE ua.user_id = $1`
	args := []any{userID}
	if appCode != "" {
		query += ` AND a.code = $2`
		args = append(args, appCode)
	}
	query += ` ORDER BY a.code, ua.key`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attrs []Attribute
	for rows.Next() {
		var attr Attribute
		if err := rows.Scan(&attr.UserID, &attr.AppCode, &attr.Key, &attr.Value); err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, rows.Err()
}

// AttributeValue fetches a single attribute value. The second return reports
// whether the key exists at all.
func (r *Repository) AttributeValue(ctx context.Context, userID int64, appCode, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(ua.value, '')
		FROM user_attributes ua
		JOIN applications a ON a.id = ua.application_id
		WHERE ua.user_id = $1 AND a.code = $2 AND ua.key = $3`, userID, appCode, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// UserByID fetches an active user record.
func (r *Repository) UserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, is_active, is_superuser, created_at
		FROM users WHERE id = $1 AND is_active`, userID).
		Scan(&user.ID, &user.Email, &user.IsActive, &user.Superuser, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// ApplicationByCode fetches an application by its stable code.
func (r *Repository) ApplicationByCode(ctx context.Context, code string) (Application, error) {
	var application Application
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, created_at FROM applications WHERE code = $1`, code).
		Scan(&application.ID, &application.Code, &application.Name, &application.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, shared.ErrNotFound
		}
		return Application{}, err
	}
	return application, nil
}

// ApplicationCodes lists every registered application code.
func (r *Repository) ApplicationCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM applications ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ActiveUserIDs lists users seen since the given instant. The background
// warmup job uses it to bound cache preloading.
func (r *Repository) ActiveUserIDs(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM users WHERE is_active AND last_seen_at >= $1 ORDER BY id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateApplication inserts a new application scope.
func (r *Repository) CreateApplication(ctx context.Context, code, name string) (Application, error) {
	var application Application
	err := r.pool.QueryRow(ctx, `
		INSERT INTO applications (code, name) VALUES ($1, $2)
		RETURNING id, code, name, created_at`, code, name).
		Scan(&application.ID, &application.Code, &application.Name, &application.CreatedAt)
	if err != nil {
		return Application{}, mapWriteError(err)
	}
	return application, nil
}

// CreateRole inserts a role scoped to the given application.
func (r *Repository) CreateRole(ctx context.Context, appCode, code, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (application_id, code, name)
		SELECT a.id, $2, $3 FROM applications a WHERE a.code = $1
		RETURNING id, application_id, code, name, created_at`, appCode, code, name).
		Scan(&role.ID, &role.ApplicationID, &role.Code, &role.Name, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("identity: application %s: %w", appCode, shared.ErrNotFound)
		}
		return Role{}, mapWriteError(err)
	}
	role.AppCode = appCode
	return role, nil
}

// EnsurePermission upserts a permission codename under the application.
func (r *Repository) EnsurePermission(ctx context.Context, appCode, codename string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (application_id, codename)
		SELECT a.id, $2 FROM applications a WHERE a.code = $1
		ON CONFLICT (application_id, codename) DO UPDATE SET codename = EXCLUDED.codename
		RETURNING id, application_id, codename`, appCode, codename).
		Scan(&perm.ID, &perm.ApplicationID, &perm.Codename)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("identity: application %s: %w", appCode, shared.ErrNotFound)
		}
		return Permission{}, err
	}
	return perm, nil
}

// SetRolePermissions replaces the permission grants of a role.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permissionID := range permissionIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, roleID, permissionID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// AssignRole grants a role to a user. Re-assignments are no-ops.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// RemoveRole revokes a role from a user.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// SetAttribute upserts an ABAC fact for the user.
func (r *Repository) SetAttribute(ctx context.Context, userID int64, appCode, key, value string) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO user_attributes (user_id, application_id, key, value)
		SELECT $1, a.id, $3, $4 FROM applications a WHERE a.code = $2
		ON CONFLICT (user_id, application_id, key) DO UPDATE SET value = EXCLUDED.value`,
		userID, appCode, key, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity: application %s: %w", appCode, shared.ErrNotFound)
	}
	return nil
}

// DeleteAttribute removes an ABAC fact.
func (r *Repository) DeleteAttribute(ctx context.Context, userID int64, appCode, key string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM user_attributes ua
		USING applications a
		WHERE ua.application_id = a.id AND ua.user_id = $1 AND a.code = $2 AND ua.key = $3`,
		userID, appCode, key)
	return err
}

func scanRoleInfos(rows pgx.Rows) ([]RoleInfo, error) {
	var infos []RoleInfo
	for rows.Next() {
		var info RoleInfo
		if err := rows.Scan(&info.ID, &info.AppCode, &info.Code, &info.Name); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}
