// Package store provides SQLite-backed durable storage for lofi records.
//
// Each declared table maps to one physical table holding the declared
// columns plus three reserved columns:
//   - id: record identifier (UUIDv7 text), primary key
//   - _status: lifecycle status (created, updated, deleted)
//   - _changed: canonical JSON array of column names dirtied since creation
//
// Column types map to SQLite storage as string -> TEXT, number -> REAL,
// boolean -> INTEGER (0/1), date -> INTEGER (milliseconds since epoch).
// The lofi_metadata table records the applied schema version and hash.
//
// # Transactions
//
// All mutation happens through a Tx obtained from Begin. A Tx refuses every
// operation once it has been committed or rolled back, failing with a
// TransactionScopeError. SQLite constraint violations surface as
// ConstraintErrors; the caller decides whether to roll back.
//
// # Database Configuration
//
//   - WAL mode: reads proceed on pooled connections while a write is open
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout: wait for locks (default 5 seconds)
//   - foreign_keys=ON
//   - BEGIN IMMEDIATE for write transactions
//
// All queries order by the caller's sort keys and then id ASC COLLATE BINARY.
package store
