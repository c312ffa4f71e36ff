package authz

import "errors"

var (
	// ErrNotFound indicates a subject, role, permission or scope reference
	// that does not resolve. Resolvers treat it as an empty set.
	ErrNotFound = errors.New("authz: not found")

	// ErrScopeMisconfigured indicates a scope whose type requires
	// configuration that is absent or invalid. The scope is excluded from
	// composition rather than silently widening access.
	ErrScopeMisconfigured = errors.New("authz: scope misconfigured")

	// ErrNoOperation indicates an API that needs an operation-scoped cache
	// was called outside NewOperation.
	ErrNoOperation = errors.New("authz: no operation in context")
)

// Reason codes attached to decisions. Denial is an expected outcome and is
// reported as a value, never as an error.
type Reason string

const (
	ReasonAdmin        Reason = "admin"
	ReasonGranted      Reason = "granted"
	ReasonNotGranted   Reason = "not_granted"
	ReasonUnknownSlug  Reason = "unknown_permission"
	ReasonStoreFailure Reason = "store_failure"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	ID      string
	Allowed bool
	Reason  Reason
}
