package authz

import (
	"log/slog"
)

// Composer combines resolved scopes into a single query predicate using the
// configured composition mode and empty-set strategy.
type Composer struct {
	strategies *Strategies
	opts       Options
	logger     *slog.Logger
	observer   Observer
}

// NewComposer constructs a composer over the strategy table.
func NewComposer(strategies *Strategies, opts Options, logger *slog.Logger, observer Observer) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Composer{strategies: strategies, opts: opts, logger: logger, observer: observer}
}

// Compose shapes the query with the scopes' predicates. Misconfigured scopes
// are excluded (fail closed) and logged. For a fixed scope set the resulting
// predicate structure is identical across calls: scopes arrive ordered by ID
// and fragments are appended in that order.
func (c *Composer) Compose(scopes []DataScope, subject Subject, q Query) {
	var conds []Cond
	unrestricted := false

	for _, scope := range scopes {
		cond, kind, err := c.strategies.Predicate(scope, subject)
		switch kind {
		case PredicateAll:
			unrestricted = true
		case PredicateSkip:
			c.logger.Warn("excluding misconfigured scope",
				slog.Int64("scope_id", scope.ID),
				slog.String("scope_type", string(scope.Type)),
				slog.Any("error", err))
			c.observer.ScopeMisconfigured(scope.Type)
		case PredicateCond:
			conds = append(conds, cond)
		}
	}

	if len(conds) == 0 {
		// An "all" scope grants full visibility; otherwise nothing resolved
		// and the empty strategy decides.
		if unrestricted || c.opts.EmptyStrategy == EmptyIgnore {
			return
		}
		q.WhereNone()
		return
	}

	switch c.opts.Mode {
	case ModeOr:
		if unrestricted {
			// Any-of composition with a full-visibility scope admits all rows.
			return
		}
		q.WhereGroupOr(conds)
	default:
		for _, cond := range conds {
			q.Where(cond.Expr, cond.Args...)
		}
	}
}

// Admits answers a point check against the composed scope set: would the
// resource be visible under these scopes for this subject.
func (c *Composer) Admits(scopes []DataScope, subject Subject, resource ResourceRef) bool {
	var results []bool
	unrestricted := false

	for _, scope := range scopes {
		if scope.Type == ScopeAll {
			unrestricted = true
			continue
		}
		ok, err := c.strategies.CanAccess(scope, resource, subject)
		if err != nil {
			c.logger.Warn("excluding misconfigured scope from access check",
				slog.Int64("scope_id", scope.ID),
				slog.String("scope_type", string(scope.Type)),
				slog.Any("error", err))
			c.observer.ScopeMisconfigured(scope.Type)
			continue
		}
		results = append(results, ok)
	}

	if len(results) == 0 {
		if unrestricted {
			return true
		}
		return c.opts.EmptyStrategy == EmptyIgnore
	}

	if c.opts.Mode == ModeOr {
		if unrestricted {
			return true
		}
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	}
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}
