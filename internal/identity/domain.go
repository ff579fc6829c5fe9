package identity

import "time"

// Application is the root scope for roles, permissions and attributes.
type Application struct {
	ID        int64
	Code      string
	Name      string
	CreatedAt time.Time
}

// Role belongs to exactly one application; its code is unique within that
// application, not globally.
type Role struct {
	ID            int64
	ApplicationID int64
	AppCode       string
	Code          string
	Name          string
	CreatedAt     time.Time
}

// Permission is an atomic capability identified by a {action}_{resource}
// codename, scoped by the owning application.
type Permission struct {
	ID            int64
	ApplicationID int64
	Codename      string
}

// RoleInfo is the read-model projection of a role handed to the
// authorization core and embedded in token snapshots.
type RoleInfo struct {
	ID      int64  `json:"id"`
	AppCode string `json:"app_code"`
	Code    string `json:"code"`
	Name    string `json:"name"`
}

// Attribute is an ABAC fact about a user, unique per (user, application, key).
type Attribute struct {
	UserID  int64  `json:"-"`
	AppCode string `json:"app_code"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

// User represents a principal record in the identity store.
type User struct {
	ID        int64
	Email     string
	IsActive  bool
	Superuser bool
	CreatedAt time.Time
}

// GetID implements shared.Principal.
func (u User) GetID() int64 { return u.ID }

// GetIdentifier implements shared.Principal.
func (u User) GetIdentifier() string { return u.Email }

// IsAuthenticated implements shared.Principal. A loaded user record is an
// authenticated principal by definition; inactive accounts are filtered at
// query time.
func (u User) IsAuthenticated() bool { return u.ID != 0 }

// IsSuperUser implements shared.Principal.
func (u User) IsSuperUser() bool { return u.Superuser }
