package authz

// Observer receives engine events worth counting. The observability package
// implements it with Prometheus collectors; a nil observer drops everything.
type Observer interface {
	// DecisionMade fires once per Authorize outcome.
	DecisionMade(allowed bool, reason Reason)
	// ScopeMisconfigured fires when a scope is excluded from composition.
	ScopeMisconfigured(scopeType ScopeType)
	// AmbiguousContext fires when automatic filtering ran without a
	// current-permission set. It indicates a caller wiring gap.
	AmbiguousContext()
}

type nopObserver struct{}

func (nopObserver) DecisionMade(bool, Reason)     {}
func (nopObserver) ScopeMisconfigured(ScopeType)  {}
func (nopObserver) AmbiguousContext()             {}
