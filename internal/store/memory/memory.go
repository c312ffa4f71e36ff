// Package memory provides an in-memory Store and SubjectProvider used by
// tests and local development wiring.
package memory

import (
	"context"
	"sync"

	"github.com/scopeguard/scopeguard/internal/authz"
)

// Store keeps the administrative data in maps guarded by one lock. It
// implements both authz.Store and authz.SubjectProvider.
type Store struct {
	mu         sync.RWMutex
	roles      map[int64]authz.Role
	rolePerms  map[int64][]int64
	roleScopes map[int64][]int64
	perms      map[int64]authz.Permission
	permSlugs  map[string]int64
	scopes     map[int64]authz.DataScope
	subjects   map[int64]authz.Subject
}

// New returns an empty store.
func New() *Store {
	return &Store{
		roles:      make(map[int64]authz.Role),
		rolePerms:  make(map[int64][]int64),
		roleScopes: make(map[int64][]int64),
		perms:      make(map[int64]authz.Permission),
		permSlugs:  make(map[string]int64),
		scopes:     make(map[int64]authz.DataScope),
		subjects:   make(map[int64]authz.Subject),
	}
}

// Subject implements authz.SubjectProvider.
func (s *Store) Subject(ctx context.Context, subjectID int64) (authz.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return authz.Subject{}, authz.ErrNotFound
	}
	return subject, nil
}

// Role implements authz.Store.
func (s *Store) Role(ctx context.Context, roleID int64) (authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[roleID]
	if !ok {
		return authz.Role{}, authz.ErrNotFound
	}
	return role, nil
}

// RolePermissions implements authz.Store.
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, authz.ErrNotFound
	}
	var perms []authz.Permission
	for _, id := range s.rolePerms[roleID] {
		if p, ok := s.perms[id]; ok {
			perms = append(perms, p)
		}
	}
	return perms, nil
}

// RoleScopes implements authz.Store.
func (s *Store) RoleScopes(ctx context.Context, roleID int64) ([]authz.DataScope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, authz.ErrNotFound
	}
	var scopes []authz.DataScope
	for _, id := range s.roleScopes[roleID] {
		if sc, ok := s.scopes[id]; ok {
			scopes = append(scopes, sc)
		}
	}
	return scopes, nil
}

// Permissions implements authz.Store. Unknown IDs are skipped.
func (s *Store) Permissions(ctx context.Context, ids []int64) ([]authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var perms []authz.Permission
	for _, id := range ids {
		if p, ok := s.perms[id]; ok {
			perms = append(perms, p)
		}
	}
	return perms, nil
}

// Scopes implements authz.Store. Unknown IDs are skipped.
func (s *Store) Scopes(ctx context.Context, ids []int64) ([]authz.DataScope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var scopes []authz.DataScope
	for _, id := range ids {
		if sc, ok := s.scopes[id]; ok {
			scopes = append(scopes, sc)
		}
	}
	return scopes, nil
}

// PermissionBySlug implements authz.Store.
func (s *Store) PermissionBySlug(ctx context.Context, slug string) (authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.permSlugs[slug]
	if !ok {
		return authz.Permission{}, authz.ErrNotFound
	}
	return s.perms[id], nil
}

// Seeding and mutation helpers.

// PutRole inserts or replaces a role.
func (s *Store) PutRole(role authz.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.ID] = role
}

// PutPermission inserts or replaces a permission.
func (s *Store) PutPermission(p authz.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[p.ID] = p
	s.permSlugs[p.Slug] = p.ID
}

// PutScope inserts or replaces a data scope.
func (s *Store) PutScope(sc authz.DataScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[sc.ID] = sc
}

// PutSubject inserts or replaces a subject snapshot.
func (s *Store) PutSubject(subject authz.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject.ID] = subject
}

// SetRoleEnabled toggles a role's enabled flag.
func (s *Store) SetRoleEnabled(roleID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return authz.ErrNotFound
	}
	role.Enabled = enabled
	s.roles[roleID] = role
	return nil
}

// AttachPermissionToRole links a permission to a role.
func (s *Store) AttachPermissionToRole(roleID, permissionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePerms[roleID] = appendUnique(s.rolePerms[roleID], permissionID)
}

// AttachScopeToRole links a data scope to a role.
func (s *Store) AttachScopeToRole(roleID, scopeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleScopes[roleID] = appendUnique(s.roleScopes[roleID], scopeID)
}

// AssignRole grants role membership to a subject.
func (s *Store) AssignRole(subjectID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return authz.ErrNotFound
	}
	subject.RoleIDs = appendUnique(subject.RoleIDs, roleID)
	s.subjects[subjectID] = subject
	return nil
}

// RevokeRole removes role membership from a subject.
func (s *Store) RevokeRole(subjectID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return authz.ErrNotFound
	}
	subject.RoleIDs = removeID(subject.RoleIDs, roleID)
	s.subjects[subjectID] = subject
	return nil
}

// GrantPermission adds a direct permission grant to a subject.
func (s *Store) GrantPermission(subjectID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return authz.ErrNotFound
	}
	subject.PermissionIDs = appendUnique(subject.PermissionIDs, permissionID)
	s.subjects[subjectID] = subject
	return nil
}

// RevokePermission removes a direct permission grant from a subject.
func (s *Store) RevokePermission(subjectID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return authz.ErrNotFound
	}
	subject.PermissionIDs = removeID(subject.PermissionIDs, permissionID)
	s.subjects[subjectID] = subject
	return nil
}

// GrantScope adds a direct data-scope grant to a subject.
func (s *Store) GrantScope(subjectID, scopeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return authz.ErrNotFound
	}
	subject.ScopeIDs = appendUnique(subject.ScopeIDs, scopeID)
	s.subjects[subjectID] = subject
	return nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

var (
	_ authz.Store           = (*Store)(nil)
	_ authz.SubjectProvider = (*Store)(nil)
)
