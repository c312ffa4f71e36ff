package authz

import "fmt"

// Mode selects how multiple scope predicates combine.
type Mode string

const (
	// ModeAnd intersects all scope predicates.
	ModeAnd Mode = "and"
	// ModeOr admits a row when any scope predicate admits it.
	ModeOr Mode = "or"
)

// EmptyStrategy selects the behavior when a permission requires scoping but
// the subject resolved no scopes at all.
type EmptyStrategy string

const (
	// EmptyDeny constrains the query to zero rows. Default; guards against
	// accidental full-table exposure.
	EmptyDeny EmptyStrategy = "deny"
	// EmptyIgnore leaves the query unmodified.
	EmptyIgnore EmptyStrategy = "ignore"
)

// Options is the engine configuration surface.
type Options struct {
	Mode          Mode
	EmptyStrategy EmptyStrategy

	// Column names the organization/department/personal strategies filter on
	// when a scope's own config does not override them.
	OrganizationField string
	DepartmentField   string
	OwnerField        string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Mode:              ModeAnd,
		EmptyStrategy:     EmptyDeny,
		OrganizationField: "organization_id",
		DepartmentField:   "department_id",
		OwnerField:        "created_by",
	}
}

// Validate checks enum fields and fills zero values with defaults.
func (o *Options) Validate() error {
	defaults := DefaultOptions()
	if o.Mode == "" {
		o.Mode = defaults.Mode
	}
	if o.EmptyStrategy == "" {
		o.EmptyStrategy = defaults.EmptyStrategy
	}
	if o.OrganizationField == "" {
		o.OrganizationField = defaults.OrganizationField
	}
	if o.DepartmentField == "" {
		o.DepartmentField = defaults.DepartmentField
	}
	if o.OwnerField == "" {
		o.OwnerField = defaults.OwnerField
	}
	if o.Mode != ModeAnd && o.Mode != ModeOr {
		return fmt.Errorf("authz: invalid composition mode %q", o.Mode)
	}
	if o.EmptyStrategy != EmptyDeny && o.EmptyStrategy != EmptyIgnore {
		return fmt.Errorf("authz: invalid empty strategy %q", o.EmptyStrategy)
	}
	return nil
}
