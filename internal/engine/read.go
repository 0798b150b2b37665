package engine

import (
	"context"

	"github.com/roach88/lofi/internal/queryir"
)

// Find returns the committed record with id in table.
func (e *Engine) Find(ctx context.Context, table, id string) (*Record, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.Find(ctx, table, id)
}

// Fetch runs q against committed state.
func (e *Engine) Fetch(ctx context.Context, q queryir.Query) ([]*Record, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.Fetch(ctx, q)
}

// Count returns the number of committed records matching q.
func (e *Engine) Count(ctx context.Context, q queryir.Query) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	return e.store.Count(ctx, q)
}

// TableQuery is an immutable query over one table, bound to an engine.
// Every builder method returns a new value.
//
//	live, err := e.Table("users").
//		Query(queryir.Eq("name", "Ann"), queryir.NotDeleted()).
//		SortBy(queryir.Desc("created_at")).
//		Observe(ctx)
type TableQuery struct {
	e *Engine
	q queryir.Query
}

// Table starts a query over the named table.
func (e *Engine) Table(name string) TableQuery {
	return TableQuery{e: e, q: queryir.New(name)}
}

// Query adds predicates; all predicates must hold.
func (t TableQuery) Query(preds ...queryir.Predicate) TableQuery {
	return TableQuery{e: t.e, q: t.q.Filter(preds...)}
}

// SortBy adds sort keys. The record id always breaks ties.
func (t TableQuery) SortBy(keys ...queryir.SortKey) TableQuery {
	return TableQuery{e: t.e, q: t.q.SortBy(keys...)}
}

// Take limits the result to n records.
func (t TableQuery) Take(n int) TableQuery {
	return TableQuery{e: t.e, q: t.q.Take(n)}
}

// Skip skips the first n records.
func (t TableQuery) Skip(n int) TableQuery {
	return TableQuery{e: t.e, q: t.q.Skip(n)}
}

// Descriptor returns the underlying query descriptor.
func (t TableQuery) Descriptor() queryir.Query {
	return t.q
}

// Fetch returns the current result.
func (t TableQuery) Fetch(ctx context.Context) ([]*Record, error) {
	return t.e.Fetch(ctx, t.q)
}

// Count returns the current cardinality.
func (t TableQuery) Count(ctx context.Context) (int, error) {
	return t.e.Count(ctx, t.q)
}

// Observe subscribes to the result. An invalid query fails here and
// leaves nothing registered.
func (t TableQuery) Observe(ctx context.Context) (*Observation[[]*Record], error) {
	q := t.q
	return observe(ctx, t.e, q.Table, func(ctx context.Context) ([]*Record, error) {
		return t.e.store.Fetch(ctx, q)
	}, recordsEqual)
}

// ObserveCount subscribes to the cardinality of the result without
// materializing rows.
func (t TableQuery) ObserveCount(ctx context.Context) (*Observation[int], error) {
	q := t.q
	return observe(ctx, t.e, q.Table, func(ctx context.Context) (int, error) {
		return t.e.store.Count(ctx, q)
	}, func(a, b int) bool { return a == b })
}

func recordsEqual(a, b []*Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
