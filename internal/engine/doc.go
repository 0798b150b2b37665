// Package engine is the lofi query and observation engine.
//
// An Engine owns one SQLite database. Open registers the schema, brings
// physical storage up to date (materializing a fresh database or running
// the migration runner on an existing one) and refuses to start on a
// downgrade or a failed migration.
//
// WRITES:
// All mutation happens inside Write (or WriteResult). The function receives
// a *Tx bound to a single BEGIN IMMEDIATE transaction; returning nil
// commits, returning an error or panicking rolls back. Write transactions
// are serialized: in WriteModeQueue a second writer waits for the first, in
// WriteModeFailFast it fails with dberr.ErrWriteBusy. Calling Write from
// inside a write function fails with a TransactionScopeError.
//
// READS:
// Reads outside a transaction see the last committed state. They use the
// read side of the connection pool and never wait for an open write.
//
// OBSERVATION:
// Every commit that touches at least one table is stamped with a sequence
// number from the engine Clock and published to the observations on those
// tables. Each observation queues commits without bound, re-runs its query
// in its own goroutine, and emits only when the result changed. The writer
// never waits for an observer.
package engine
