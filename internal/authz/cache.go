package authz

import (
	"fmt"
	"sync"
)

// OpCache holds effective sets resolved within one operation. Concurrent
// resolutions inside the same operation (fan-out handlers) share it, so reads
// and writes are guarded.
type OpCache struct {
	mu     sync.Mutex
	perms  map[int64][]Permission
	scopes map[string][]DataScope
}

func newOpCache() *OpCache {
	return &OpCache{
		perms:  make(map[int64][]Permission),
		scopes: make(map[string][]DataScope),
	}
}

func (c *OpCache) permissions(subjectID int64) ([]Permission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	perms, ok := c.perms[subjectID]
	return perms, ok
}

func (c *OpCache) setPermissions(subjectID int64, perms []Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perms[subjectID] = perms
}

func (c *OpCache) scopeSet(subjectID int64, slug string) ([]DataScope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopes, ok := c.scopes[scopeKey(subjectID, slug)]
	return scopes, ok
}

func (c *OpCache) setScopeSet(subjectID int64, slug string, scopes []DataScope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes[scopeKey(subjectID, slug)] = scopes
}

// Invalidate drops every cached entry for the subject. Called by the gate's
// mutation hooks so a later resolution in the same operation refetches.
func (c *OpCache) Invalidate(subjectID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.perms, subjectID)
	prefix := fmt.Sprintf("%d|", subjectID)
	for key := range c.scopes {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.scopes, key)
		}
	}
}

func scopeKey(subjectID int64, slug string) string {
	return fmt.Sprintf("%d|%s", subjectID, slug)
}
