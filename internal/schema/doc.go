// Package schema is the lofi schema registry.
//
// A Schema is an ordered set of table definitions plus a positive version.
// Validate checks structural self-consistency; Registry enforces that
// versions only move forward over its lifetime; Materialize asks a storage
// backend to create whatever tables, columns, and indexes are missing.
//
// Column metadata replaces per-field annotations: ReadOnly marks a column
// that mutators cannot set after creation, and Timestamp tags a column the
// record store fills automatically on create (created) or on every write
// (updated). Columns named created_at and updated_at of type number or date
// are tagged automatically.
//
// Reserved names:
//   - column "id" and any column starting with "_" (record metadata)
//   - tables starting with "lofi_" or "sqlite_" (engine and SQLite internals)
package schema
