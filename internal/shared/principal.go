package shared

// Principal describes the authenticated actor on whose behalf a decision is
// requested. Implementations come from the token layer (validated claims) or
// from the identity store (loaded user records).
type Principal interface {
	GetID() int64
	GetIdentifier() string
	IsAuthenticated() bool
	IsSuperUser() bool
}

// Anonymous is the unauthenticated principal. Every decision predicate
// denies it.
var Anonymous Principal = anonymous{}

type anonymous struct{}

func (anonymous) GetID() int64          { return 0 }
func (anonymous) GetIdentifier() string { return "" }
func (anonymous) IsAuthenticated() bool { return false }
func (anonymous) IsSuperUser() bool     { return false }
