package queryir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/schema"
)

var users = schema.Table{
	Name: "users",
	Columns: []schema.Column{
		{Name: "name", Type: schema.TypeString},
		{Name: "email", Type: schema.TypeString, Optional: true},
		{Name: "age", Type: schema.TypeNumber, Optional: true},
		{Name: "active", Type: schema.TypeBoolean},
		{Name: "born", Type: schema.TypeDate, Optional: true},
	},
}

func TestBuilders_AreImmutable(t *testing.T) {
	base := New("users", Eq("name", "Ann"))
	sorted := base.SortBy(Desc("age"))
	limited := sorted.Take(5).Skip(10)
	more := base.Filter(Gt("age", 3))

	assert.Len(t, base.Where, 1)
	assert.Empty(t, base.Sort)
	assert.Zero(t, base.Limit)

	assert.Len(t, sorted.Sort, 1)
	assert.Zero(t, sorted.Limit)

	assert.Equal(t, 5, limited.Limit)
	assert.Equal(t, 10, limited.Offset)
	assert.Equal(t, 0, limited.Unpaged().Limit)

	assert.Len(t, more.Where, 2)
	assert.Len(t, base.Where, 1)
}

func TestBuilders_Shapes(t *testing.T) {
	assert.Equal(t, Compare{Column: "a", Op: OpEq, Value: 1}, Eq("a", 1))
	assert.Equal(t, Compare{Column: "a", Op: OpNeq, Value: 1}, Neq("a", 1))
	assert.Equal(t, Compare{Column: "a", Op: OpGte, Value: 1}, Gte("a", 1))
	assert.Equal(t, Compare{Column: "a", Op: OpLte, Value: 1}, Lte("a", 1))
	assert.Equal(t, Compare{Column: "a", Op: OpLt, Value: 1}, Lt("a", 1))
	assert.Equal(t, In{Column: "a", Values: []any{1, 2}}, OneOf("a", 1, 2))
	assert.Equal(t, In{Column: "a", Values: []any{1}, Negate: true}, NotIn("a", 1))
	assert.Equal(t, StatusIs{Statuses: []ir.Status{ir.StatusDeleted}, Negate: true}, NotDeleted())
	assert.Equal(t, SortKey{Column: "a"}, Asc("a"))
}

func TestResolve_CoercesValues(t *testing.T) {
	born := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)
	q := New("users",
		Eq("name", "Ann"),
		Gt("age", 30),
		Eq("active", true),
		Lt("born", born),
		OneOf("age", 1, 2.5),
		Eq("email", nil),
		Eq("id", "abc"),
	)

	r, err := Resolve(q, users)
	require.NoError(t, err)
	assert.Equal(t, ir.String("Ann"), r.Where[0].(Compare).Value)
	assert.Equal(t, ir.Number(30), r.Where[1].(Compare).Value)
	assert.Equal(t, ir.Bool(true), r.Where[2].(Compare).Value)
	assert.Equal(t, ir.NewDate(born), r.Where[3].(Compare).Value)
	assert.Equal(t, []any{ir.Number(1), ir.Number(2.5)}, r.Where[4].(In).Values)
	assert.Equal(t, ir.Null{}, r.Where[5].(Compare).Value)
	assert.Equal(t, ir.String("abc"), r.Where[6].(Compare).Value)

	// Input untouched.
	assert.Equal(t, 30, q.Where[1].(Compare).Value)
}

func TestResolve_NestedAndPointers(t *testing.T) {
	q := New("users", &Or{Predicates: []Predicate{
		AllOf(Eq("name", "Ann"), &Compare{Column: "age", Op: OpGte, Value: 18}),
		NotDeleted(),
	}})
	r, err := Resolve(q, users)
	require.NoError(t, err)

	or := r.Where[0].(Or)
	and := or.Predicates[0].(And)
	assert.Equal(t, ir.Number(18), and.Predicates[1].(Compare).Value)
	assert.IsType(t, StatusIs{}, or.Predicates[1])
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name  string
		q     Query
		field string
		want  string
	}{
		{"unknown column", New("users", Eq("nickname", "x")), "nickname", "unknown column"},
		{"type mismatch", New("users", Eq("age", "old")), "age", "expected number"},
		{"bool for string", New("users", Eq("name", true)), "name", "expected string"},
		{"empty in", New("users", OneOf("name")), "name", "empty"},
		{"null in list", New("users", OneOf("name", "a", nil)), "name", "contains null"},
		{"ordered null", New("users", Gt("age", nil)), "age", "cannot compare against null"},
		{"ordered bool", New("users", Gt("active", true)), "active", "not defined for boolean"},
		{"bad op", New("users", Compare{Column: "age", Op: "like", Value: 1}), "age", "unknown operator"},
		{"nil predicate", New("users", nil), "", "predicate is nil"},
		{"nested error", New("users", AnyOf(Eq("name", "a"), Eq("zzz", 1))), "zzz", "unknown column"},
		{"unknown sort", New("users").SortBy(Asc("zzz")), "zzz", "unknown column"},
		{"negative limit", New("users").Take(-1), "", "limit"},
		{"negative offset", New("users").Skip(-1), "", "offset"},
		{"wrong table", New("posts"), "", "does not match"},
		{"empty status", New("users", WithStatus()), "_status", "status list is empty"},
		{"bad status", New("users", WithStatus("archived")), "_status", "unknown record status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.q, users)
			require.Error(t, err)
			assert.True(t, dberr.IsValidation(err), "expected ValidationError, got %v", err)

			var e *dberr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Field)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "name eq Ann", String(Eq("name", "Ann")))
	assert.Equal(t, "age not in [1 2]", String(NotIn("age", 1, 2)))
	assert.Equal(t, "status not in [deleted]", String(NotDeleted()))
	assert.Equal(t, "and[a eq 1 b lt 2]", String(AllOf(Eq("a", 1), Lt("b", 2))))
}
