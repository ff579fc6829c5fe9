package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultPermissionTTL bounds the staleness of cached permission sets.
const DefaultPermissionTTL = 300 * time.Second

// PermissionSet is the effective set of permission codenames a user holds in
// one application.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from codenames.
func NewPermissionSet(codenames ...string) PermissionSet {
	set := make(PermissionSet, len(codenames))
	for _, codename := range codenames {
		set[codename] = struct{}{}
	}
	return set
}

// Has reports membership of a single codename.
func (s PermissionSet) Has(codename string) bool {
	_, ok := s[codename]
	return ok
}

// HasAny reports whether at least one codename is in the set. An empty
// candidate list yields false.
func (s PermissionSet) HasAny(codenames []string) bool {
	for _, codename := range codenames {
		if s.Has(codename) {
			return true
		}
	}
	return false
}

// HasAll reports whether every codename is in the set. An empty candidate
// list yields false: an empty policy is a caller mistake, not a wildcard.
func (s PermissionSet) HasAll(codenames []string) bool {
	if len(codenames) == 0 {
		return false
	}
	for _, codename := range codenames {
		if !s.Has(codename) {
			return false
		}
	}
	return true
}

// Sorted returns the codenames in ascending order.
func (s PermissionSet) Sorted() []string {
	codenames := make([]string, 0, len(s))
	for codename := range s {
		codenames = append(codenames, codename)
	}
	sort.Strings(codenames)
	return codenames
}

// PermissionRepository resolves and caches effective permission sets per
// (user, application) pair. The cache is read-through and never
// authoritative: a backend outage degrades latency, not correctness.
type PermissionRepository struct {
	store   IdentityStore
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
	group   singleflight.Group
}

// PermissionRepositoryConfig collects constructor dependencies.
type PermissionRepositoryConfig struct {
	Store   IdentityStore
	Cache   Cache
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewPermissionRepository constructs a PermissionRepository.
func NewPermissionRepository(cfg PermissionRepositoryConfig) *PermissionRepository {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionRepository{
		store:   cfg.Store,
		cache:   cfg.Cache,
		ttl:     ttl,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// CacheKey formats the cache key for a (user, application) pair.
func CacheKey(userID int64, appCode string) string {
	return fmt.Sprintf("user_perms:%d:%s", userID, appCode)
}

// Get returns the effective permission set, consulting the cache first and
// falling back to the identity store on miss or backend failure. Unknown
// applications and roleless users yield an empty set, never an error.
func (r *PermissionRepository) Get(ctx context.Context, userID int64, appCode string) (PermissionSet, error) {
	key := CacheKey(userID, appCode)

	if r.cache != nil {
		data, err := r.cache.Get(ctx, key)
		switch {
		case err == nil:
			var codenames []string
			if jsonErr := json.Unmarshal(data, &codenames); jsonErr == nil {
				r.metrics.CacheResult("hit")
				return NewPermissionSet(codenames...), nil
			}
			// Corrupt entry: treat as a miss and overwrite below.
			r.logger.Warn("permission cache entry corrupt", slog.String("key", key))
		case err == ErrCacheMiss:
			r.metrics.CacheResult("miss")
		default:
			r.metrics.CacheResult("error")
			r.logger.Warn("permission cache unavailable, querying store directly",
				slog.String("key", key), slog.Any("error", err))
		}
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		codenames, err := r.store.PermissionsForUser(ctx, userID, appCode)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			sorted := make([]string, len(codenames))
			copy(sorted, codenames)
			sort.Strings(sorted)
			data, _ := json.Marshal(sorted)
			if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
				r.logger.Warn("permission cache store failed",
					slog.String("key", key), slog.Any("error", err))
			}
		}
		return NewPermissionSet(codenames...), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(PermissionSet), nil
}

// GetBatch resolves permission sets for several applications concurrently.
func (r *PermissionRepository) GetBatch(ctx context.Context, userID int64, appCodes []string) (map[string]PermissionSet, error) {
	sets := make(map[string]PermissionSet, len(appCodes))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, appCode := range appCodes {
		g.Go(func() error {
			set, err := r.Get(ctx, userID, appCode)
			if err != nil {
				return err
			}
			mu.Lock()
			sets[appCode] = set
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sets, nil
}

// Invalidate removes the cached entry for one (user, application) pair.
func (r *PermissionRepository) Invalidate(ctx context.Context, userID int64, appCode string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, CacheKey(userID, appCode))
}

// InvalidateAll removes every cached entry for a user across all registered
// applications.
func (r *PermissionRepository) InvalidateAll(ctx context.Context, userID int64) error {
	if r.cache == nil {
		return nil
	}
	appCodes, err := r.store.ApplicationCodes(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(appCodes))
	for _, appCode := range appCodes {
		keys = append(keys, CacheKey(userID, appCode))
	}
	return r.cache.Delete(ctx, keys...)
}

// InvalidateForRole drops the cached entries of every user holding the role,
// scoped to the role's application. The identity write path must call this
// (or enqueue the fanout task) whenever role-permission bindings change;
// otherwise cached readers observe stale entitlements for up to one TTL.
func (r *PermissionRepository) InvalidateForRole(ctx context.Context, roleID int64) error {
	if r.cache == nil {
		return nil
	}
	role, err := r.store.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	userIDs, err := r.store.UsersWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, CacheKey(userID, role.AppCode))
	}
	return r.cache.Delete(ctx, keys...)
}

// Preload warms the cache for the given applications. Semantics are those of
// repeated Get calls; errors abort the batch.
func (r *PermissionRepository) Preload(ctx context.Context, userID int64, appCodes []string) error {
	_, err := r.GetBatch(ctx, userID, appCodes)
	return err
}

// TTL exposes the configured cache entry lifetime.
func (r *PermissionRepository) TTL() time.Duration {
	return r.ttl
}
