// Package queryir describes single-table queries as immutable values.
//
// A Query names a table, a conjunction of predicates, sort keys, and
// pagination bounds. It owns no data: the SQL backend (querysql) compiles it
// for one-shot fetches, and the engine re-runs it for live observations.
//
//	[builders] -> [Query] -> Resolve(table) -> [querysql] -> SQLite
//
// Predicate values are loose Go values (string, float64, int, bool,
// time.Time, ir.Value, nil) until Resolve checks them against the table's
// column types and converts them to ir.Values. Unknown columns, type
// mismatches, empty IN lists, and ordered comparisons against null are
// ValidationErrors.
//
// Null semantics: Eq(col, nil) matches null cells and Neq(col, v) matches
// null cells too. NotIn matches null cells. Ordered comparisons never match
// null cells.
//
// Soft-deleted records are not filtered implicitly. Add NotDeleted() to
// exclude tombstones.
package queryir
