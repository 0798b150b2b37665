package queryir

import (
	"github.com/roach88/lofi/internal/ir"
)

// Predicate is a filter condition.
//
// This is a sealed interface: only types in this package implement it,
// which lets backends switch exhaustively.
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Ordered reports whether op needs an ordering rather than equality.
func (op Op) Ordered() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Compare is a column-operator-literal predicate.
type Compare struct {
	Column string
	Op     Op
	Value  any
}

func (Compare) predicateNode() {}

// In is a set-membership predicate. Negate turns it into NOT IN.
type In struct {
	Column string
	Values []any
	Negate bool
}

func (In) predicateNode() {}

// And holds when every predicate holds. Empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or holds when any predicate holds. Empty Or is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// StatusIs matches records whose lifecycle status is one of Statuses.
// Negate inverts the match.
type StatusIs struct {
	Statuses []ir.Status
	Negate   bool
}

func (StatusIs) predicateNode() {}

// SortKey orders results by one column.
type SortKey struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Asc sorts ascending by column.
func Asc(column string) SortKey { return SortKey{Column: column} }

// Desc sorts descending by column.
func Desc(column string) SortKey { return SortKey{Column: column, Desc: true} }

// Query is an immutable single-table query descriptor.
//
// Where predicates are combined with AND. Limit 0 means unbounded.
// Results are always ordered by Sort then by record id ascending.
type Query struct {
	Table  string
	Where  []Predicate
	Sort   []SortKey
	Limit  int
	Offset int
}

// New returns a query over table with optional predicates.
func New(table string, preds ...Predicate) Query {
	return Query{Table: table}.Filter(preds...)
}

// Filter returns a copy of q with preds appended to its conjunction.
func (q Query) Filter(preds ...Predicate) Query {
	out := q.clone()
	out.Where = append(out.Where, preds...)
	return out
}

// SortBy returns a copy of q with keys appended to its sort order.
func (q Query) SortBy(keys ...SortKey) Query {
	out := q.clone()
	out.Sort = append(out.Sort, keys...)
	return out
}

// Take returns a copy of q limited to n results.
func (q Query) Take(n int) Query {
	out := q.clone()
	out.Limit = n
	return out
}

// Skip returns a copy of q skipping the first n results.
func (q Query) Skip(n int) Query {
	out := q.clone()
	out.Offset = n
	return out
}

// Unpaged returns a copy of q without limit and offset.
func (q Query) Unpaged() Query {
	out := q.clone()
	out.Limit, out.Offset = 0, 0
	return out
}

func (q Query) clone() Query {
	out := q
	out.Where = append([]Predicate(nil), q.Where...)
	out.Sort = append([]SortKey(nil), q.Sort...)
	return out
}

// Eq matches column == v. A nil v matches null cells.
func Eq(column string, v any) Predicate { return Compare{Column: column, Op: OpEq, Value: v} }

// Neq matches column != v, including null cells when v is not nil.
func Neq(column string, v any) Predicate { return Compare{Column: column, Op: OpNeq, Value: v} }

// Gt matches column > v.
func Gt(column string, v any) Predicate { return Compare{Column: column, Op: OpGt, Value: v} }

// Gte matches column >= v.
func Gte(column string, v any) Predicate { return Compare{Column: column, Op: OpGte, Value: v} }

// Lt matches column < v.
func Lt(column string, v any) Predicate { return Compare{Column: column, Op: OpLt, Value: v} }

// Lte matches column <= v.
func Lte(column string, v any) Predicate { return Compare{Column: column, Op: OpLte, Value: v} }

// OneOf matches column IN values.
func OneOf(column string, values ...any) Predicate { return In{Column: column, Values: values} }

// NotIn matches column NOT IN values, including null cells.
func NotIn(column string, values ...any) Predicate {
	return In{Column: column, Values: values, Negate: true}
}

// AllOf is the conjunction of preds.
func AllOf(preds ...Predicate) Predicate { return And{Predicates: preds} }

// AnyOf is the disjunction of preds.
func AnyOf(preds ...Predicate) Predicate { return Or{Predicates: preds} }

// WithStatus matches records in any of the given statuses.
func WithStatus(statuses ...ir.Status) Predicate { return StatusIs{Statuses: statuses} }

// NotDeleted excludes tombstoned records.
func NotDeleted() Predicate {
	return StatusIs{Statuses: []ir.Status{ir.StatusDeleted}, Negate: true}
}
