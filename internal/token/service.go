package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/acesso-gov/acesso/internal/identity"
	"github.com/acesso-gov/acesso/internal/shared"
)

// ErrTokenInvalid is returned by Validate and Refresh for every failure
// mode. Expired, tampered and malformed tokens are indistinguishable to
// callers beyond "invalid".
var ErrTokenInvalid = errors.New("token: invalid")

// DefaultTTL is the token lifetime applied when the caller does not supply
// one and configuration does not override it.
const DefaultTTL = 12 * time.Hour

// SnapshotSource is the identity-store contract the token service needs to
// build entitlement snapshots. *identity.Repository satisfies it.
type SnapshotSource interface {
	UserByID(ctx context.Context, userID int64) (identity.User, error)
	RolesForUser(ctx context.Context, userID int64, appCode string) ([]identity.RoleInfo, error)
	AllRolesForUser(ctx context.Context, userID int64) ([]identity.RoleInfo, error)
	Attributes(ctx context.Context, userID int64, appCode string) ([]identity.Attribute, error)
}

// Service issues, validates and refreshes HMAC-SHA256 signed tokens.
type Service struct {
	store  SnapshotSource
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
	clock  func() time.Time
}

// ServiceConfig collects constructor dependencies.
type ServiceConfig struct {
	Store  SnapshotSource
	Secret string
	TTL    time.Duration
	Logger *slog.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewService constructs a Service. A missing signing secret is a
// configuration error and fails construction.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:  cfg.Store,
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		logger: logger,
		clock:  clock,
	}, nil
}

// Issue builds and signs a token for the user, embedding a snapshot of the
// user's roles and attributes. When appCode is non-empty the snapshot is
// scoped to that application, otherwise it spans all applications. A
// non-positive ttl falls back to the configured default.
func (s *Service) Issue(ctx context.Context, userID int64, appCode string, ttl time.Duration) (string, *Claims, error) {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("token: load principal %d: %w", userID, err)
	}

	var roles []identity.RoleInfo
	if appCode != "" {
		roles, err = s.store.RolesForUser(ctx, userID, appCode)
	} else {
		roles, err = s.store.AllRolesForUser(ctx, userID)
	}
	if err != nil {
		return "", nil, fmt.Errorf("token: snapshot roles: %w", err)
	}
	attrs, err := s.store.Attributes(ctx, userID, appCode)
	if err != nil {
		return "", nil, fmt.Errorf("token: snapshot attributes: %w", err)
	}
	if roles == nil {
		roles = []identity.RoleInfo{}
	}
	if attrs == nil {
		attrs = []identity.Attribute{}
	}

	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.clock().UTC().Truncate(time.Second)
	claims := &Claims{
		TokenID:    uuid.NewString(),
		UserID:     user.ID,
		Email:      user.Email,
		Superuser:  user.Superuser,
		AppCode:    appCode,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		Roles:      roles,
		Attributes: attrs,
	}

	builder := jwt.NewBuilder().
		JwtID(claims.TokenID).
		Subject(strconv.FormatInt(claims.UserID, 10)).
		IssuedAt(claims.IssuedAt).
		Expiration(claims.ExpiresAt).
		Claim("email", claims.Email).
		Claim("superuser", claims.Superuser).
		Claim("roles", claims.Roles).
		Claim("attributes", claims.Attributes)
	if appCode != "" {
		builder = builder.Claim("app_code", appCode)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", nil, fmt.Errorf("token: build: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", nil, fmt.Errorf("token: sign: %w", err)
	}
	return string(signed), claims, nil
}

// Validate verifies signature and expiry. Any failure yields ErrTokenInvalid.
func (s *Service) Validate(ctx context.Context, raw string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(s.clock)),
	)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, err := claimsFromToken(tok)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh validates the presented token and issues a new one for the same
// principal and application scope with a fresh snapshot and expiry. It
// yields ErrTokenInvalid when the input token is invalid or its principal no
// longer exists.
func (s *Service) Refresh(ctx context.Context, raw string) (string, *Claims, error) {
	claims, err := s.Validate(ctx, raw)
	if err != nil {
		return "", nil, err
	}
	signed, fresh, err := s.Issue(ctx, claims.UserID, claims.AppCode, 0)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", nil, ErrTokenInvalid
		}
		return "", nil, err
	}
	return signed, fresh, nil
}

func claimsFromToken(tok jwt.Token) (*Claims, error) {
	userID, err := strconv.ParseInt(tok.Subject(), 10, 64)
	if err != nil || userID == 0 {
		return nil, ErrTokenInvalid
	}
	claims := &Claims{
		TokenID:   tok.JwtID(),
		UserID:    userID,
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
	}
	if email, ok := tok.Get("email"); ok {
		claims.Email, _ = email.(string)
	}
	if superuser, ok := tok.Get("superuser"); ok {
		claims.Superuser, _ = superuser.(bool)
	}
	if appCode, ok := tok.Get("app_code"); ok {
		claims.AppCode, _ = appCode.(string)
	}
	if err := decodeClaim(tok, "roles", &claims.Roles); err != nil {
		return nil, err
	}
	if err := decodeClaim(tok, "attributes", &claims.Attributes); err != nil {
		return nil, err
	}
	return claims, nil
}

// decodeClaim round-trips a private claim through JSON to recover its
// concrete type; jwx surfaces nested claims as []interface{} of maps.
func decodeClaim(tok jwt.Token, name string, target any) error {
	value, ok := tok.Get(name)
	if !ok {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
