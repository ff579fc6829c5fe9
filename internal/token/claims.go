// Package token issues and validates signed tokens that carry a snapshot of
// a principal's entitlements across application scopes.
package token

import (
	"time"

	"github.com/acesso-gov/acesso/internal/identity"
)

// Claims is the decoded payload of a validated token. The roles and
// attributes are the snapshot taken at issuance; they do not track later
// entitlement changes.
type Claims struct {
	TokenID    string              `json:"jti"`
	UserID     int64               `json:"sub,string"`
	Email      string              `json:"email"`
	Superuser  bool                `json:"superuser"`
	AppCode    string              `json:"app_code,omitempty"`
	IssuedAt   time.Time           `json:"iat"`
	ExpiresAt  time.Time           `json:"exp"`
	Roles      []identity.RoleInfo `json:"roles"`
	Attributes []identity.Attribute `json:"attributes"`
}

// GetID implements shared.Principal.
func (c *Claims) GetID() int64 { return c.UserID }

// GetIdentifier implements shared.Principal.
func (c *Claims) GetIdentifier() string { return c.Email }

// IsAuthenticated implements shared.Principal. A Claims value only exists
// after signature and expiry verification.
func (c *Claims) IsAuthenticated() bool { return c != nil && c.UserID != 0 }

// IsSuperUser implements shared.Principal.
func (c *Claims) IsSuperUser() bool { return c.Superuser }

// RolesFor returns the snapshotted roles for one application.
func (c *Claims) RolesFor(appCode string) []identity.RoleInfo {
	var roles []identity.RoleInfo
	for _, role := range c.Roles {
		if role.AppCode == appCode {
			roles = append(roles, role)
		}
	}
	return roles
}

// Attribute returns the snapshotted attribute value for (appCode, key). The
// second return reports existence.
func (c *Claims) Attribute(appCode, key string) (string, bool) {
	for _, attr := range c.Attributes {
		if attr.AppCode == appCode && attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}
