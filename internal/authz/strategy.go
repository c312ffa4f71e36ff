package authz

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
)

// PredicateKind classifies what a strategy produced for a scope.
type PredicateKind int

const (
	// PredicateCond carries a concrete predicate fragment.
	PredicateCond PredicateKind = iota
	// PredicateAll means every row is visible; the scope adds no restriction.
	PredicateAll
	// PredicateSkip means the scope is misconfigured and excluded from
	// composition. Fail closed: exclusion never widens access.
	PredicateSkip
)

// CustomScope is a caller-supplied scope implementation the engine invokes
// opaquely. Predicate shapes the row filter; Access answers point checks.
type CustomScope struct {
	Predicate func(subject Subject) (Cond, error)
	Access    func(resource ResourceRef, subject Subject) bool
}

type fieldScopeConfig struct {
	Field string `json:"field" validate:"omitempty,min=1"`
}

type customScopeConfig struct {
	Callback string `json:"callback" validate:"required"`
}

// Strategies dispatches scope types to their predicate builders. One entry
// per ScopeType, statically known; custom callbacks register by name.
type Strategies struct {
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger

	mu     sync.RWMutex
	custom map[string]CustomScope
}

// NewStrategies builds the dispatch table for the given options.
func NewStrategies(opts Options, logger *slog.Logger) *Strategies {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategies{
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		custom:   make(map[string]CustomScope),
	}
}

// RegisterCustom makes a named callback available to custom scopes.
func (s *Strategies) RegisterCustom(name string, scope CustomScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[name] = scope
}

// Predicate turns one scope into a predicate fragment for the subject.
// Misconfigured scopes are reported as PredicateSkip with the error that
// disqualified them; callers log and exclude, never widen.
func (s *Strategies) Predicate(scope DataScope, subject Subject) (Cond, PredicateKind, error) {
	switch scope.Type {
	case ScopeAll:
		return Cond{}, PredicateAll, nil
	case ScopeOrganization:
		field, err := s.fieldFor(scope, s.opts.OrganizationField)
		if err != nil {
			return Cond{}, PredicateSkip, err
		}
		return Cond{Expr: field + " = ?", Args: []any{subject.OrganizationID}}, PredicateCond, nil
	case ScopeDepartment:
		field, err := s.fieldFor(scope, s.opts.DepartmentField)
		if err != nil {
			return Cond{}, PredicateSkip, err
		}
		return Cond{Expr: field + " = ?", Args: []any{subject.DepartmentID}}, PredicateCond, nil
	case ScopePersonal:
		field, err := s.fieldFor(scope, s.opts.OwnerField)
		if err != nil {
			return Cond{}, PredicateSkip, err
		}
		return Cond{Expr: field + " = ?", Args: []any{subject.ID}}, PredicateCond, nil
	case ScopeCustom:
		custom, err := s.customFor(scope)
		if err != nil {
			return Cond{}, PredicateSkip, err
		}
		cond, err := custom.Predicate(subject)
		if err != nil {
			return Cond{}, PredicateSkip, fmt.Errorf("%w: callback for scope %d: %v", ErrScopeMisconfigured, scope.ID, err)
		}
		return cond, PredicateCond, nil
	default:
		return Cond{}, PredicateSkip, fmt.Errorf("%w: unknown scope type %q", ErrScopeMisconfigured, scope.Type)
	}
}

// CanAccess answers a point check for one scope without building a query.
func (s *Strategies) CanAccess(scope DataScope, resource ResourceRef, subject Subject) (bool, error) {
	switch scope.Type {
	case ScopeAll:
		return true, nil
	case ScopeOrganization:
		if _, err := s.fieldFor(scope, s.opts.OrganizationField); err != nil {
			return false, err
		}
		return resource.OrganizationID == subject.OrganizationID, nil
	case ScopeDepartment:
		if _, err := s.fieldFor(scope, s.opts.DepartmentField); err != nil {
			return false, err
		}
		return resource.DepartmentID == subject.DepartmentID, nil
	case ScopePersonal:
		return resource.OwnerID == subject.ID, nil
	case ScopeCustom:
		custom, err := s.customFor(scope)
		if err != nil {
			return false, err
		}
		if custom.Access == nil {
			return false, fmt.Errorf("%w: scope %d callback has no access check", ErrScopeMisconfigured, scope.ID)
		}
		return custom.Access(resource, subject), nil
	default:
		return false, fmt.Errorf("%w: unknown scope type %q", ErrScopeMisconfigured, scope.Type)
	}
}

// fieldFor resolves the column a field-equality scope filters on: the scope
// config override when present, the engine default otherwise.
func (s *Strategies) fieldFor(scope DataScope, fallback string) (string, error) {
	if len(scope.Config) == 0 {
		if fallback == "" {
			return "", fmt.Errorf("%w: scope %d has no field configured", ErrScopeMisconfigured, scope.ID)
		}
		return fallback, nil
	}
	var cfg fieldScopeConfig
	if err := json.Unmarshal(scope.Config, &cfg); err != nil {
		return "", fmt.Errorf("%w: scope %d config: %v", ErrScopeMisconfigured, scope.ID, err)
	}
	if err := s.validate.Struct(cfg); err != nil {
		return "", fmt.Errorf("%w: scope %d config: %v", ErrScopeMisconfigured, scope.ID, err)
	}
	if cfg.Field != "" {
		return cfg.Field, nil
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: scope %d has no field configured", ErrScopeMisconfigured, scope.ID)
	}
	return fallback, nil
}

func (s *Strategies) customFor(scope DataScope) (CustomScope, error) {
	if len(scope.Config) == 0 {
		return CustomScope{}, fmt.Errorf("%w: custom scope %d has no config", ErrScopeMisconfigured, scope.ID)
	}
	var cfg customScopeConfig
	if err := json.Unmarshal(scope.Config, &cfg); err != nil {
		return CustomScope{}, fmt.Errorf("%w: custom scope %d config: %v", ErrScopeMisconfigured, scope.ID, err)
	}
	if err := s.validate.Struct(cfg); err != nil {
		return CustomScope{}, fmt.Errorf("%w: custom scope %d config: %v", ErrScopeMisconfigured, scope.ID, err)
	}
	s.mu.RLock()
	custom, ok := s.custom[cfg.Callback]
	s.mu.RUnlock()
	if !ok || custom.Predicate == nil {
		return CustomScope{}, fmt.Errorf("%w: custom scope %d callback %q not registered", ErrScopeMisconfigured, scope.ID, cfg.Callback)
	}
	return custom, nil
}
