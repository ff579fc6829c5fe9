package identity

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/acesso-gov/acesso/internal/shared"
)

// Invalidator is the permission-cache contract the write path drives.
// Whenever role-permission bindings or assignments change the service must
// invalidate affected entries, or cached readers observe stale entitlements
// for up to one TTL window. *authz.PermissionRepository satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64, appCode string) error
	InvalidateForRole(ctx context.Context, roleID int64) error
}

// Enqueuer schedules the out-of-band invalidation fanout used when the
// synchronous invalidation fails. *jobs.Client satisfies it.
type Enqueuer interface {
	EnqueueRoleInvalidation(ctx context.Context, roleID int64) error
}

// writeStore is the persistence surface the provisioning service needs.
type writeStore interface {
	CreateApplication(ctx context.Context, code, name string) (Application, error)
	CreateRole(ctx context.Context, appCode, code, name string) (Role, error)
	EnsurePermission(ctx context.Context, appCode, codename string) (Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	SetAttribute(ctx context.Context, userID int64, appCode, key, value string) error
	DeleteAttribute(ctx context.Context, userID int64, appCode, key string) error
	RoleByID(ctx context.Context, roleID int64) (RoleInfo, error)
}

var codenamePattern = regexp.MustCompile(`^[a-z]+_[a-z0-9_]+$`)

// Service orchestrates administrative provisioning of applications, roles,
// permissions, assignments and attributes.
type Service struct {
	store       writeStore
	invalidator Invalidator
	enqueuer    Enqueuer
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService constructs a Service. The enqueuer may be nil; synchronous
// invalidation failures are then only logged.
func NewService(store writeStore, invalidator Invalidator, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("codename", func(fl validator.FieldLevel) bool {
		return codenamePattern.MatchString(fl.Field().String())
	})
	return &Service{
		store:       store,
		invalidator: invalidator,
		enqueuer:    enqueuer,
		validate:    validate,
		logger:      logger,
	}
}

// CreateApplicationInput carries provisioning input for a new application.
type CreateApplicationInput struct {
	Code string `json:"code" validate:"required,min=2,max=64,uppercase"`
	Name string `json:"name" validate:"required,max=255"`
}

// CreateApplication registers a new application scope.
func (s *Service) CreateApplication(ctx context.Context, input CreateApplicationInput) (Application, error) {
	if err := s.validationErr(input); err != nil {
		return Application{}, err
	}
	return s.store.CreateApplication(ctx, input.Code, input.Name)
}

// CreateRoleInput carries provisioning input for a new role.
type CreateRoleInput struct {
	AppCode string `json:"app_code" validate:"required,min=2,max=64,uppercase"`
	Code    string `json:"code" validate:"required,min=2,max=64,uppercase"`
	Name    string `json:"name" validate:"required,max=255"`
}

// CreateRole registers a role scoped to one application.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	if err := s.validationErr(input); err != nil {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, input.AppCode, input.Code, input.Name)
}

// SetRolePermissionsInput replaces a role's permission grants with the given
// codenames.
type SetRolePermissionsInput struct {
	RoleID    int64    `json:"role_id" validate:"required,gt=0"`
	Codenames []string `json:"codenames" validate:"dive,codename"`
}

// SetRolePermissions updates a role's grants and invalidates the cached
// permission sets of every user holding the role.
func (s *Service) SetRolePermissions(ctx context.Context, input SetRolePermissionsInput) error {
	if err := s.validationErr(input); err != nil {
		return err
	}
	role, err := s.store.RoleByID(ctx, input.RoleID)
	if err != nil {
		return err
	}

	permissionIDs := make([]int64, 0, len(input.Codenames))
	for _, codename := range input.Codenames {
		perm, err := s.store.EnsurePermission(ctx, role.AppCode, codename)
		if err != nil {
			return err
		}
		permissionIDs = append(permissionIDs, perm.ID)
	}
	if err := s.store.SetRolePermissions(ctx, input.RoleID, permissionIDs); err != nil {
		return err
	}
	s.invalidateRole(ctx, input.RoleID)
	return nil
}

// AssignRole grants a role to a user and invalidates the user's cached
// permission set for the role's application.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidateUser(ctx, userID, role.AppCode)
	return nil
}

// RemoveRole revokes a role from a user and invalidates the user's cached
// permission set for the role's application.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidateUser(ctx, userID, role.AppCode)
	return nil
}

// SetAttributeInput carries an ABAC fact write.
type SetAttributeInput struct {
	UserID  int64  `json:"user_id" validate:"required,gt=0"`
	AppCode string `json:"app_code" validate:"required,min=2,max=64,uppercase"`
	Key     string `json:"key" validate:"required,max=128"`
	Value   string `json:"value" validate:"max=1024"`
}

// SetAttribute upserts an ABAC fact. Attributes are resolved live, so no
// cache invalidation is needed.
func (s *Service) SetAttribute(ctx context.Context, input SetAttributeInput) error {
	if err := s.validationErr(input); err != nil {
		return err
	}
	return s.store.SetAttribute(ctx, input.UserID, input.AppCode, input.Key, input.Value)
}

// DeleteAttribute removes an ABAC fact.
func (s *Service) DeleteAttribute(ctx context.Context, userID int64, appCode, key string) error {
	return s.store.DeleteAttribute(ctx, userID, appCode, key)
}

func (s *Service) invalidateRole(ctx context.Context, roleID int64) {
	if s.invalidator == nil {
		return
	}
	err := s.invalidator.InvalidateForRole(ctx, roleID)
	if err == nil {
		return
	}
	s.logger.Warn("synchronous role invalidation failed",
		slog.Int64("role_id", roleID), slog.Any("error", err))
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueueRoleInvalidation(ctx, roleID); err != nil {
		s.logger.Error("enqueue role invalidation fanout",
			slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID int64, appCode string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, userID, appCode); err != nil {
		s.logger.Warn("permission cache invalidation failed",
			slog.Int64("user_id", userID), slog.String("app_code", appCode), slog.Any("error", err))
	}
}

func (s *Service) validationErr(input any) error {
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation)
	}
	return nil
}
