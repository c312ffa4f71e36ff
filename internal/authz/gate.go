package authz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Config collects the collaborators a Gate is built from.
type Config struct {
	Provider    SubjectProvider
	Store       Store
	Options     Options
	Logger      *slog.Logger
	Observer    Observer
	Invalidator Invalidator
}

// Gate is the single entry point external code authorizes through.
type Gate struct {
	provider    SubjectProvider
	store       Store
	perms       *PermissionResolver
	scopes      *ScopeResolver
	strategies  *Strategies
	composer    *Composer
	invalidator Invalidator
	logger      *slog.Logger
	observer    Observer
	opts        Options
}

// New constructs a Gate. Options are validated and defaulted.
func New(cfg Config) (*Gate, error) {
	if cfg.Provider == nil || cfg.Store == nil {
		return nil, errors.New("authz: provider and store are required")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	strategies := NewStrategies(cfg.Options, logger)
	return &Gate{
		provider:    cfg.Provider,
		store:       cfg.Store,
		perms:       NewPermissionResolver(cfg.Provider, cfg.Store, logger),
		scopes:      NewScopeResolver(cfg.Provider, cfg.Store, logger),
		strategies:  strategies,
		composer:    NewComposer(strategies, cfg.Options, logger, observer),
		invalidator: cfg.Invalidator,
		logger:      logger,
		observer:    observer,
		opts:        cfg.Options,
	}, nil
}

// RegisterCustomScope makes a named callback available to custom data scopes.
func (g *Gate) RegisterCustomScope(name string, scope CustomScope) {
	g.strategies.RegisterCustom(name, scope)
}

// Authorize decides whether the subject may perform the operation the
// permission slug describes. Denial is a Decision value; errors are reserved
// for persistence failures, which always fail closed.
func (g *Gate) Authorize(ctx context.Context, subjectID int64, slug string) (Decision, error) {
	decision := Decision{ID: uuid.NewString()}

	subject, err := g.provider.Subject(ctx, subjectID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		decision.Reason = ReasonStoreFailure
		g.observer.DecisionMade(false, decision.Reason)
		return decision, err
	}
	if err == nil && subject.Admin {
		decision.Allowed = true
		decision.Reason = ReasonAdmin
		g.observer.DecisionMade(true, decision.Reason)
		return decision, nil
	}

	held, err := g.perms.HasPermission(ctx, subjectID, slug)
	if err != nil {
		decision.Reason = ReasonStoreFailure
		g.observer.DecisionMade(false, decision.Reason)
		return decision, err
	}
	if held {
		decision.Allowed = true
		decision.Reason = ReasonGranted
		g.observer.DecisionMade(true, decision.Reason)
		return decision, nil
	}

	decision.Reason = ReasonNotGranted
	if _, err := g.store.PermissionBySlug(ctx, slug); errors.Is(err, ErrNotFound) {
		decision.Reason = ReasonUnknownSlug
	}
	g.observer.DecisionMade(false, decision.Reason)
	return decision, nil
}

// FilterQuery narrows the query to the rows the subject may see under the
// permission. A failed authorization always wins over scope configuration:
// the query is constrained to zero rows regardless of scopes or strategy.
func (g *Gate) FilterQuery(ctx context.Context, subjectID int64, slug string, q Query) error {
	decision, err := g.Authorize(ctx, subjectID, slug)
	if err != nil {
		// Persistence failure fails closed for filtering too.
		q.WhereNone()
		return err
	}
	if !decision.Allowed {
		q.WhereNone()
		return nil
	}
	if decision.Reason == ReasonAdmin {
		return nil
	}

	set, err := g.scopes.EffectiveScopes(ctx, subjectID, slug)
	if err != nil {
		q.WhereNone()
		return err
	}
	if set.Bypass {
		return nil
	}

	subject, err := g.provider.Subject(ctx, subjectID)
	if err != nil {
		q.WhereNone()
		return err
	}
	g.composer.Compose(set.Scopes, subject, q)
	return nil
}

// FilterQueryFromContext applies FilterQuery for the permission established
// by RequireCurrentPermission. With no permission in effect the engine does
// not guess: the query passes through unfiltered, and the gap is counted.
func (g *Gate) FilterQueryFromContext(ctx context.Context, subjectID int64, q Query) error {
	slug := CurrentPermission(ctx)
	if slug == "" {
		g.observer.AmbiguousContext()
		g.logger.Warn("automatic filtering invoked without a current permission",
			slog.Int64("subject_id", subjectID))
		return nil
	}
	return g.FilterQuery(ctx, subjectID, slug, q)
}

// RequireCurrentPermission establishes the permission-in-effect for the
// operation so later automatic filtering knows what to resolve scopes for.
func (g *Gate) RequireCurrentPermission(ctx context.Context, slug string) context.Context {
	return WithCurrentPermission(ctx, slug)
}

// CanAccess answers a point check: may the subject touch this one resource
// under the permission, given its effective scopes.
func (g *Gate) CanAccess(ctx context.Context, subjectID int64, slug string, resource ResourceRef) (bool, error) {
	decision, err := g.Authorize(ctx, subjectID, slug)
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		return false, nil
	}
	if decision.Reason == ReasonAdmin {
		return true, nil
	}

	set, err := g.scopes.EffectiveScopes(ctx, subjectID, slug)
	if err != nil {
		return false, err
	}
	if set.Bypass {
		return true, nil
	}
	subject, err := g.provider.Subject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return g.composer.Admits(set.Scopes, subject, resource), nil
}

// EffectivePermissions exposes the permission resolver.
func (g *Gate) EffectivePermissions(ctx context.Context, subjectID int64) ([]Permission, error) {
	return g.perms.EffectivePermissions(ctx, subjectID)
}

// HasAny reports whether the subject holds any of the slugs.
func (g *Gate) HasAny(ctx context.Context, subjectID int64, slugs ...string) (bool, error) {
	return g.perms.HasAny(ctx, subjectID, slugs)
}

// HasAll reports whether the subject holds all of the slugs.
func (g *Gate) HasAll(ctx context.Context, subjectID int64, slugs ...string) (bool, error) {
	return g.perms.HasAll(ctx, subjectID, slugs)
}

// EffectiveScopes exposes the scope resolver.
func (g *Gate) EffectiveScopes(ctx context.Context, subjectID int64, slug string) (ScopeSet, error) {
	return g.scopes.EffectiveScopes(ctx, subjectID, slug)
}

// Invalidation hooks. Calling code must invoke the matching hook whenever it
// mutates assignment data, including through channels outside this API.
// Within a still-open operation a decision made before the mutation may stay
// stale; a new operation must observe the change.

// OnRoleAssigned invalidates cached effective sets after a role grant.
func (g *Gate) OnRoleAssigned(ctx context.Context, subjectID int64) error {
	return g.invalidateSubject(ctx, subjectID)
}

// OnRoleRevoked invalidates cached effective sets after a role revocation.
func (g *Gate) OnRoleRevoked(ctx context.Context, subjectID int64) error {
	return g.invalidateSubject(ctx, subjectID)
}

// OnPermissionGranted invalidates cached effective sets after a direct grant.
func (g *Gate) OnPermissionGranted(ctx context.Context, subjectID int64) error {
	return g.invalidateSubject(ctx, subjectID)
}

// OnPermissionRevoked invalidates cached effective sets after a direct
// revocation.
func (g *Gate) OnPermissionRevoked(ctx context.Context, subjectID int64) error {
	return g.invalidateSubject(ctx, subjectID)
}

// OnRoleChanged invalidates store-side caches after a role's own permission
// or scope set changed, which affects every holder of the role.
func (g *Gate) OnRoleChanged(ctx context.Context, roleID int64) error {
	if g.invalidator == nil {
		return nil
	}
	return g.invalidator.InvalidateRole(ctx, roleID)
}

// InvalidateSubject flushes cached effective sets for a subject without
// naming the mutation that caused it. Out-of-band channels (queue consumers,
// admin tooling) use it when the specific hook is not known.
func (g *Gate) InvalidateSubject(ctx context.Context, subjectID int64) error {
	return g.invalidateSubject(ctx, subjectID)
}

func (g *Gate) invalidateSubject(ctx context.Context, subjectID int64) error {
	OperationCache(ctx).Invalidate(subjectID)
	if g.invalidator == nil {
		return nil
	}
	return g.invalidator.InvalidateSubject(ctx, subjectID)
}
