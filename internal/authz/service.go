package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acesso-gov/acesso/internal/shared"
)

// Service is the single entry point for authorization decisions. Every
// predicate denies unauthenticated principals and short-circuits to allow
// for superusers before touching the repository or store.
type Service struct {
	perms   *PermissionRepository
	roles   *RoleResolver
	store   IdentityStore
	logger  *slog.Logger
	metrics *Metrics
}

// ServiceConfig collects constructor dependencies.
type ServiceConfig struct {
	Permissions *PermissionRepository
	Roles       *RoleResolver
	Store       IdentityStore
	Logger      *slog.Logger
	Metrics     *Metrics
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		perms:   cfg.Permissions,
		roles:   cfg.Roles,
		store:   cfg.Store,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Permissions exposes the underlying repository for cache management.
func (s *Service) Permissions() *PermissionRepository { return s.perms }

// Roles exposes the underlying role resolver.
func (s *Service) Roles() *RoleResolver { return s.roles }

// bypass handles the two resolutions shared by every predicate: deny
// unauthenticated principals, allow superusers. done is false when the
// decision requires a store lookup.
func bypass(principal shared.Principal) (allowed, done bool) {
	if principal == nil || !principal.IsAuthenticated() {
		return false, true
	}
	if principal.IsSuperUser() {
		return true, true
	}
	return false, false
}

// HasPermission reports whether the principal holds one permission codename
// in the application.
func (s *Service) HasPermission(ctx context.Context, principal shared.Principal, appCode, codename string) (bool, error) {
	if allowed, done := bypass(principal); done {
		return allowed, nil
	}
	set, err := s.perms.Get(ctx, principal.GetID(), appCode)
	if err != nil {
		return false, err
	}
	return set.Has(codename), nil
}

// HasAnyPermission reports whether the principal holds at least one of the
// codenames. An empty candidate list yields false.
func (s *Service) HasAnyPermission(ctx context.Context, principal shared.Principal, appCode string, codenames []string) (bool, error) {
	if allowed, done := bypass(principal); done {
		return allowed, nil
	}
	if len(codenames) == 0 {
		return false, nil
	}
	set, err := s.perms.Get(ctx, principal.GetID(), appCode)
	if err != nil {
		return false, err
	}
	return set.HasAny(codenames), nil
}

// HasAllPermissions reports whether the principal holds every codename. An
// empty candidate list yields false: an accidentally empty policy must not
// become a universal grant.
func (s *Service) HasAllPermissions(ctx context.Context, principal shared.Principal, appCode string, codenames []string) (bool, error) {
	if allowed, done := bypass(principal); done {
		return allowed, nil
	}
	if len(codenames) == 0 {
		return false, nil
	}
	set, err := s.perms.Get(ctx, principal.GetID(), appCode)
	if err != nil {
		return false, err
	}
	return set.HasAll(codenames), nil
}

// HasRole reports whether the principal holds the role code in the
// application.
func (s *Service) HasRole(ctx context.Context, principal shared.Principal, appCode, roleCode string) (bool, error) {
	return s.HasAnyRole(ctx, principal, appCode, []string{roleCode})
}

// HasAnyRole reports whether the principal holds at least one of the role
// codes. An empty candidate list yields false.
func (s *Service) HasAnyRole(ctx context.Context, principal shared.Principal, appCode string, roleCodes []string) (bool, error) {
	if allowed, done := bypass(principal); done {
		return allowed, nil
	}
	if len(roleCodes) == 0 {
		return false, nil
	}
	roles, err := s.roles.RolesForApp(ctx, principal, appCode)
	if err != nil {
		return false, err
	}
	held := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		held[role.Code] = struct{}{}
	}
	for _, code := range roleCodes {
		if _, ok := held[code]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAttribute reports whether the ABAC fact exists for the principal in the
// application, regardless of its value.
func (s *Service) HasAttribute(ctx context.Context, principal shared.Principal, appCode, key string) (bool, error) {
	if allowed, done := bypass(principal); done {
		return allowed, nil
	}
	_, exists, err := s.store.AttributeValue(ctx, principal.GetID(), appCode, key)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// HasAttributeValue reports whether the ABAC fact exists with exactly the
// given value.
func (s *Service) HasAttributeValue(ctx context.Context, principal shared.Principal, appCode, key, value string) (bool, error) {
	if allowed, done := bypass(principal); done {
		return allowed, nil
	}
	stored, exists, err := s.store.AttributeValue(ctx, principal.GetID(), appCode, key)
	if err != nil {
		return false, err
	}
	return exists && stored == value, nil
}

// Evaluate resolves a tagged policy against the principal within one
// application scope and records the outcome.
func (s *Service) Evaluate(ctx context.Context, principal shared.Principal, appCode string, policy Policy) (bool, error) {
	var (
		allowed bool
		err     error
	)
	switch policy.Kind {
	case PolicyPermission:
		if len(policy.Codenames) != 1 {
			return false, fmt.Errorf("policy %s needs exactly one codename: %w", policy.Kind, shared.ErrValidation)
		}
		allowed, err = s.HasPermission(ctx, principal, appCode, policy.Codenames[0])
	case PolicyAnyPermission:
		allowed, err = s.HasAnyPermission(ctx, principal, appCode, policy.Codenames)
	case PolicyAllPermissions:
		allowed, err = s.HasAllPermissions(ctx, principal, appCode, policy.Codenames)
	case PolicyRole, PolicyAnyRole:
		allowed, err = s.HasAnyRole(ctx, principal, appCode, policy.RoleCodes)
	case PolicyAttribute:
		if policy.MatchValue {
			allowed, err = s.HasAttributeValue(ctx, principal, appCode, policy.Key, policy.Value)
		} else {
			allowed, err = s.HasAttribute(ctx, principal, appCode, policy.Key)
		}
	default:
		return false, fmt.Errorf("unknown policy kind %q: %w", policy.Kind, shared.ErrValidation)
	}
	if err != nil {
		return false, err
	}
	s.metrics.Decision(policy.Kind, allowed)
	return allowed, nil
}
