package authz

import (
	"log/slog"
	"net/http"
	"strings"
)

// SubjectFromRequest extracts the acting subject from a request. The
// surrounding service owns authentication; the engine only consumes its
// result.
type SubjectFromRequest func(r *http.Request) (int64, bool)

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Gate    *Gate
	Logger  *slog.Logger
	Subject SubjectFromRequest
}

// Operation installs a fresh operation-scoped cache for each request. Mount
// it once, before any authorization-aware handler.
func (m Middleware) Operation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(NewOperation(r.Context())))
	})
}

// WithPermission establishes the permission-in-effect for the request so
// automatic scope filtering downstream knows which permission applies.
func (m Middleware) WithPermission(slug string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithCurrentPermission(r.Context(), slug)))
		})
	}
}

// RequireAny ensures the subject holds at least one of the permissions.
func (m Middleware) RequireAny(slugs ...string) func(http.Handler) http.Handler {
	normalized := normalizeSlugs(slugs)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			subjectID, ok := m.Subject(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			held, err := m.Gate.HasAny(r.Context(), subjectID, normalized...)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require any", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if held {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the subject holds every permission.
func (m Middleware) RequireAll(slugs ...string) func(http.Handler) http.Handler {
	normalized := normalizeSlugs(slugs)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			subjectID, ok := m.Subject(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			held, err := m.Gate.HasAll(r.Context(), subjectID, normalized...)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require all", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if held {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func normalizeSlugs(slugs []string) []string {
	unique := make(map[string]struct{}, len(slugs))
	var normalized []string
	for _, s := range slugs {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		if _, ok := unique[s]; ok {
			continue
		}
		unique[s] = struct{}{}
		normalized = append(normalized, s)
	}
	return normalized
}
