package engine

import (
	"context"
	"fmt"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/queryir"
	"github.com/roach88/lofi/internal/store"
)

// Record is a stored row snapshot.
type Record = store.Record

// Draft collects column assignments inside Create and Update.
type Draft = store.Draft

// Tx is the handle passed to a write function. It is valid only until the
// function returns; afterwards every method fails with a
// TransactionScopeError.
type Tx struct {
	tx *store.Tx
}

// Create inserts a new record into table. See store.Tx.Create.
func (t *Tx) Create(ctx context.Context, table string, init func(*Draft)) (*Record, error) {
	return t.tx.Create(ctx, table, init)
}

// Update applies mutate to the current state of rec.
func (t *Tx) Update(ctx context.Context, rec *Record, mutate func(*Draft)) (*Record, error) {
	return t.tx.Update(ctx, rec, mutate)
}

// MarkDeleted tombstones rec.
func (t *Tx) MarkDeleted(ctx context.Context, rec *Record) (*Record, error) {
	return t.tx.MarkDeleted(ctx, rec)
}

// DestroyPermanently removes rec's row.
func (t *Tx) DestroyPermanently(ctx context.Context, rec *Record) error {
	return t.tx.DestroyPermanently(ctx, rec)
}

// PurgeDeleted removes every tombstone of table.
func (t *Tx) PurgeDeleted(ctx context.Context, table string) (int, error) {
	return t.tx.PurgeDeleted(ctx, table)
}

// Find reads a record including this transaction's uncommitted writes.
func (t *Tx) Find(ctx context.Context, table, id string) (*Record, error) {
	return t.tx.Find(ctx, table, id)
}

// Fetch runs q including this transaction's uncommitted writes.
func (t *Tx) Fetch(ctx context.Context, q queryir.Query) ([]*Record, error) {
	return t.tx.Fetch(ctx, q)
}

// Tables returns the sorted names of the tables written so far.
func (t *Tx) Tables() []string {
	return t.tx.Tables()
}

// writeKey marks contexts derived inside a write function.
type writeKey struct{}

// Write runs fn in a write transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics (the panic
// is re-raised). Storage constraint violations abort the whole transaction.
func (e *Engine) Write(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	_, err := WriteResult(ctx, e, func(ctx context.Context, tx *Tx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}

// WriteResult is Write for functions that produce a value. The value is
// returned only if the transaction committed.
func WriteResult[T any](ctx context.Context, e *Engine, fn func(ctx context.Context, tx *Tx) (T, error)) (T, error) {
	var zero T
	if err := e.checkOpen(); err != nil {
		return zero, err
	}
	if owner, _ := ctx.Value(writeKey{}).(*Engine); owner == e {
		return zero, &dberr.Error{
			Code:    dberr.CodeTransactionScope,
			Message: "write transactions cannot be nested",
		}
	}

	if err := e.acquire(ctx); err != nil {
		return zero, err
	}
	defer e.release()
	if err := e.checkOpen(); err != nil {
		return zero, err
	}

	stx, err := e.store.Begin(ctx)
	if err != nil {
		return zero, err
	}
	defer stx.Rollback() // No-op if committed

	result, err := fn(context.WithValue(ctx, writeKey{}, e), &Tx{tx: stx})
	if err != nil {
		e.logger.Debug("write rolled back", "error", err)
		return zero, err
	}

	tables := stx.Tables()
	if err := stx.Commit(); err != nil {
		return zero, err
	}
	if len(tables) == 0 {
		return result, nil
	}

	// Published before releasing the writer so observers see commits in
	// commit order.
	seq := e.clock.Next()
	e.hub.publish(commit{Seq: seq, Tables: tables})
	e.logger.Debug("write committed", "seq", seq, "tables", tables)
	return result, nil
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.mode == WriteModeFailFast {
		select {
		case e.writeSem <- struct{}{}:
			return nil
		default:
			return dberr.ErrWriteBusy
		}
	}
	select {
	case e.writeSem <- struct{}{}:
		return nil
	case <-e.closing:
		return errClosed()
	case <-ctx.Done():
		return fmt.Errorf("wait for writer: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	<-e.writeSem
}

// PurgeDeleted removes every tombstone of table in its own write
// transaction and returns the number of rows removed.
func (e *Engine) PurgeDeleted(ctx context.Context, table string) (int, error) {
	return WriteResult(ctx, e, func(ctx context.Context, tx *Tx) (int, error) {
		return tx.PurgeDeleted(ctx, table)
	})
}
