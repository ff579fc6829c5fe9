package authz

import (
	"fmt"

	"github.com/acesso-gov/acesso/internal/shared"
)

// PolicyKind discriminates the policy variants understood by Evaluate.
type PolicyKind string

const (
	// PolicyPermission requires a single permission codename.
	PolicyPermission PolicyKind = "permission"
	// PolicyAnyPermission requires at least one of the listed codenames.
	PolicyAnyPermission PolicyKind = "any_permission"
	// PolicyAllPermissions requires every listed codename.
	PolicyAllPermissions PolicyKind = "all_permissions"
	// PolicyRole requires one specific role code.
	PolicyRole PolicyKind = "role"
	// PolicyAnyRole requires at least one of the listed role codes.
	PolicyAnyRole PolicyKind = "any_role"
	// PolicyAttribute requires an ABAC fact, optionally with an exact value.
	PolicyAttribute PolicyKind = "attribute"
)

// Policy is the tagged-variant access requirement evaluated against a
// principal within one application scope.
type Policy struct {
	Kind       PolicyKind `json:"kind"`
	Codenames  []string   `json:"codenames,omitempty"`
	RoleCodes  []string   `json:"role_codes,omitempty"`
	Key        string     `json:"key,omitempty"`
	Value      string     `json:"value,omitempty"`
	MatchValue bool       `json:"match_value,omitempty"`
}

// Permission builds a single-permission policy.
func Permission(codename string) Policy {
	return Policy{Kind: PolicyPermission, Codenames: []string{codename}}
}

// AnyPermission builds a policy satisfied by any of the codenames.
func AnyPermission(codenames ...string) Policy {
	return Policy{Kind: PolicyAnyPermission, Codenames: codenames}
}

// AllPermissions builds a policy requiring every codename.
func AllPermissions(codenames ...string) Policy {
	return Policy{Kind: PolicyAllPermissions, Codenames: codenames}
}

// Role builds a single-role policy.
func Role(code string) Policy {
	return Policy{Kind: PolicyRole, RoleCodes: []string{code}}
}

// AnyRole builds a policy satisfied by any of the role codes.
func AnyRole(codes ...string) Policy {
	return Policy{Kind: PolicyAnyRole, RoleCodes: codes}
}

// Attribute builds an existence-only attribute policy.
func Attribute(key string) Policy {
	return Policy{Kind: PolicyAttribute, Key: key}
}

// AttributeValue builds an exact-match attribute policy.
func AttributeValue(key, value string) Policy {
	return Policy{Kind: PolicyAttribute, Key: key, Value: value, MatchValue: true}
}

// Validate checks structural well-formedness of a policy, typically after
// decoding it from a request body.
func (p Policy) Validate() error {
	switch p.Kind {
	case PolicyPermission:
		if len(p.Codenames) != 1 || p.Codenames[0] == "" {
			return fmt.Errorf("policy %s needs exactly one codename: %w", p.Kind, shared.ErrValidation)
		}
	case PolicyAnyPermission, PolicyAllPermissions:
		for _, codename := range p.Codenames {
			if codename == "" {
				return fmt.Errorf("policy %s has an empty codename: %w", p.Kind, shared.ErrValidation)
			}
		}
	case PolicyRole:
		if len(p.RoleCodes) != 1 || p.RoleCodes[0] == "" {
			return fmt.Errorf("policy %s needs exactly one role code: %w", p.Kind, shared.ErrValidation)
		}
	case PolicyAnyRole:
		for _, code := range p.RoleCodes {
			if code == "" {
				return fmt.Errorf("policy %s has an empty role code: %w", p.Kind, shared.ErrValidation)
			}
		}
	case PolicyAttribute:
		if p.Key == "" {
			return fmt.Errorf("policy %s needs a key: %w", p.Kind, shared.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown policy kind %q: %w", p.Kind, shared.ErrValidation)
	}
	return nil
}
