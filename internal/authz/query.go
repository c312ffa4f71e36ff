package authz

import (
	"strconv"
	"strings"
)

// Cond is a single predicate fragment. Expr uses ? placeholders; the query
// implementation owns final placeholder numbering.
type Cond struct {
	Expr string
	Args []any
}

// Query is the opaque, mutable predicate builder the engine shapes. The
// external data layer owns execution; the engine only ever narrows.
type Query interface {
	// Where appends a conjunct.
	Where(expr string, args ...any)
	// WhereGroupOr appends the conditions as one grouped disjunction, so the
	// group composes correctly with pre-existing conjuncts.
	WhereGroupOr(conds []Cond)
	// WhereNone constrains the query to return zero rows.
	WhereNone()
}

// SQLQuery is the provided Query implementation: it accumulates predicate
// fragments and renders a WHERE clause with $n placeholders for pgx.
type SQLQuery struct {
	conjuncts []Cond
}

// NewSQLQuery returns an empty predicate builder.
func NewSQLQuery() *SQLQuery {
	return &SQLQuery{}
}

// Where appends a conjunct.
func (q *SQLQuery) Where(expr string, args ...any) {
	q.conjuncts = append(q.conjuncts, Cond{Expr: expr, Args: args})
}

// WhereGroupOr appends the conditions as a single parenthesised OR group.
func (q *SQLQuery) WhereGroupOr(conds []Cond) {
	if len(conds) == 0 {
		return
	}
	exprs := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		exprs = append(exprs, c.Expr)
		args = append(args, c.Args...)
	}
	q.conjuncts = append(q.conjuncts, Cond{
		Expr: "(" + strings.Join(exprs, " OR ") + ")",
		Args: args,
	})
}

// WhereNone makes the query yield no rows.
func (q *SQLQuery) WhereNone() {
	q.conjuncts = append(q.conjuncts, Cond{Expr: "1 = 0"})
}

// Empty reports whether any predicate has been added.
func (q *SQLQuery) Empty() bool {
	return len(q.conjuncts) == 0
}

// Build renders the accumulated predicate as a WHERE clause plus positional
// arguments. An empty builder renders the empty string.
func (q *SQLQuery) Build() (string, []any) {
	if len(q.conjuncts) == 0 {
		return "", nil
	}
	var sb strings.Builder
	var args []any
	sb.WriteString("WHERE ")
	n := 0
	for i, c := range q.conjuncts {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		expr := c.Expr
		for strings.Contains(expr, "?") {
			n++
			expr = strings.Replace(expr, "?", "$"+strconv.Itoa(n), 1)
		}
		sb.WriteString(expr)
		args = append(args, c.Args...)
	}
	return sb.String(), args
}

var _ Query = (*SQLQuery)(nil)
