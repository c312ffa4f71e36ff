// Package cached decorates an authorization store with a Redis read-through
// cache for the role-attached data, which is read on every resolution and
// changes rarely. The cache sits on the store side of the engine boundary:
// the engine itself keeps only operation-scoped state, and the gate's
// invalidation hooks drop entries here when assignments change.
package cached

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/scopeguard/scopeguard/internal/authz"
)

// Store wraps an authz.Store with cached role permission and scope reads.
type Store struct {
	next   authz.Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// New constructs the decorator.
func New(next authz.Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{next: next, client: client, ttl: ttl, logger: logger}
}

// Role passes through; role metadata is a single-row read.
func (s *Store) Role(ctx context.Context, roleID int64) (authz.Role, error) {
	return s.next.Role(ctx, roleID)
}

// RolePermissions serves from cache when possible. Concurrent misses for the
// same role collapse into one upstream fetch.
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]authz.Permission, error) {
	key := rolePermsKey(roleID)
	if perms, ok := cacheGet[[]authz.Permission](ctx, s, key); ok {
		return perms, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		perms, err := s.next.RolePermissions(ctx, roleID)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, perms)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]authz.Permission), nil
}

// RoleScopes serves from cache when possible.
func (s *Store) RoleScopes(ctx context.Context, roleID int64) ([]authz.DataScope, error) {
	key := roleScopesKey(roleID)
	if scopes, ok := cacheGet[[]authz.DataScope](ctx, s, key); ok {
		return scopes, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		scopes, err := s.next.RoleScopes(ctx, roleID)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, scopes)
		return scopes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]authz.DataScope), nil
}

// Permissions passes through; direct grants are per subject and already
// covered by the operation cache.
func (s *Store) Permissions(ctx context.Context, ids []int64) ([]authz.Permission, error) {
	return s.next.Permissions(ctx, ids)
}

// Scopes passes through.
func (s *Store) Scopes(ctx context.Context, ids []int64) ([]authz.DataScope, error) {
	return s.next.Scopes(ctx, ids)
}

// PermissionBySlug passes through.
func (s *Store) PermissionBySlug(ctx context.Context, slug string) (authz.Permission, error) {
	return s.next.PermissionBySlug(ctx, slug)
}

// InvalidateSubject implements authz.Invalidator. Subject-level effective
// sets live only in operation caches, so there is nothing to drop here; the
// hook exists so a future per-subject cache has a seam.
func (s *Store) InvalidateSubject(ctx context.Context, subjectID int64) error {
	return nil
}

// InvalidateRole drops the cached permission and scope sets for a role.
func (s *Store) InvalidateRole(ctx context.Context, roleID int64) error {
	return s.client.Del(ctx, rolePermsKey(roleID), roleScopesKey(roleID)).Err()
}

func cacheGet[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var out T
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("authz cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return out, false
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		s.logger.Warn("authz cache payload corrupt", slog.String("key", key), slog.Any("error", err))
		return out, false
	}
	return out, true
}

func (s *Store) cacheSet(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("authz cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func rolePermsKey(roleID int64) string {
	return fmt.Sprintf("authz:role:%d:permissions", roleID)
}

func roleScopesKey(roleID int64) string {
	return fmt.Sprintf("authz:role:%d:scopes", roleID)
}

var (
	_ authz.Store       = (*Store)(nil)
	_ authz.Invalidator = (*Store)(nil)
)
