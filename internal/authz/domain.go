package authz

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Guard identifies the authentication context a role or permission belongs to.
type Guard string

const (
	GuardWeb   Guard = "web"
	GuardAPI   Guard = "api"
	GuardAdmin Guard = "admin"
)

// Action enumerates the atomic operations a permission can describe.
type Action string

const (
	ActionView      Action = "view"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionExport    Action = "export"
	ActionImport    Action = "import"
	ActionManage    Action = "manage"
	ActionConfigure Action = "configure"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
)

var writeActions = map[Action]struct{}{
	ActionCreate:  {},
	ActionUpdate:  {},
	ActionDelete:  {},
	ActionImport:  {},
	ActionApprove: {},
	ActionReject:  {},
}

// IsWrite reports whether the action mutates resource state.
func (a Action) IsWrite() bool {
	_, ok := writeActions[a]
	return ok
}

// Permission represents an atomic capability identified by a slug in
// "resource:action" form. Instance permissions carry a third segment
// addressing a single resource ("order:update:42").
type Permission struct {
	ID        int64
	Slug      string
	Name      string
	Resource  string
	Action    Action
	Guard     Guard
	ParentID  *int64
	Meta      map[string]string
	CreatedAt time.Time
}

// IsWrite reports whether the permission covers a write operation.
func (p Permission) IsWrite() bool {
	return p.Action.IsWrite()
}

// IsInstance reports whether the permission targets a specific resource
// instance rather than a resource class.
func (p Permission) IsInstance() bool {
	return strings.Count(p.Slug, ":") >= 2
}

// IsGeneral is the complement of IsInstance.
func (p Permission) IsGeneral() bool {
	return !p.IsInstance()
}

// ParseSlug splits a permission slug into resource and action parts.
func ParseSlug(slug string) (resource string, action Action, err error) {
	parts := strings.SplitN(slug, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("authz: malformed permission slug %q", slug)
	}
	return parts[0], Action(parts[1]), nil
}

// Role bundles permissions and data scopes under a name. A disabled role
// contributes nothing to any resolution.
type Role struct {
	ID      int64
	Slug    string
	Name    string
	Enabled bool
	Guard   Guard
}

// ScopeType tags the visibility rule a data scope applies.
type ScopeType string

const (
	ScopeAll          ScopeType = "all"
	ScopeOrganization ScopeType = "organization"
	ScopeDepartment   ScopeType = "department"
	ScopePersonal     ScopeType = "personal"
	ScopeCustom       ScopeType = "custom"
)

// DataScope is a named row-level visibility rule. Config carries the
// type-specific payload (field names, callback name) as raw JSON.
type DataScope struct {
	ID          int64
	Name        string
	Type        ScopeType
	Config      json.RawMessage
	Description string
}

// Subject is the snapshot of an authenticable actor the provider returns.
// Permissions and scopes granted through roles are resolved separately.
type Subject struct {
	ID             int64
	Admin          bool
	OrganizationID int64
	DepartmentID   int64
	PermissionIDs  []int64
	ScopeIDs       []int64
	RoleIDs        []int64
}

// ResourceRef carries the ownership fields a point-access check inspects.
type ResourceRef struct {
	OwnerID        int64
	OrganizationID int64
	DepartmentID   int64
}
