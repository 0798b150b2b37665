package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/queryir"
	"github.com/roach88/lofi/internal/querysql"
	"github.com/roach88/lofi/internal/schema"
)

// Tx is an open write transaction.
//
// Every operation fails with a TransactionScopeError once the transaction
// has been committed or rolled back. A constraint violation aborts the
// transaction: later operations and Commit return the violation and the
// transaction can only be rolled back. A Tx is not safe for concurrent use.
type Tx struct {
	s       *Store
	tx      *sql.Tx
	created map[string]bool
	touched map[string]bool
	done    bool
	aborted error
}

// Begin starts a write transaction (BEGIN IMMEDIATE).
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin write transaction: %w", err)
	}
	return &Tx{
		s:       s,
		tx:      tx,
		created: make(map[string]bool),
		touched: make(map[string]bool),
	}, nil
}

func (t *Tx) check(op string) error {
	if t == nil || t.done {
		return dberr.Scope(op)
	}
	return t.aborted
}

// fail maps err and aborts the transaction on a constraint violation.
func (t *Tx) fail(table string, err error) error {
	err = mapConstraint(table, err)
	if dberr.IsConstraint(err) {
		t.aborted = err
	}
	return err
}

func recordKey(table, id string) string {
	return table + "\x00" + id
}

// Create allocates a new record in table, applies init to populate its
// columns, and inserts it with status created. Unset optional columns are
// null; unset required columns fail with a ValidationError.
func (t *Tx) Create(ctx context.Context, table string, init func(*Draft)) (*Record, error) {
	if err := t.check("create"); err != nil {
		return nil, err
	}
	tbl, err := t.s.table(table)
	if err != nil {
		return nil, err
	}

	d := newDraft(tbl, ir.Object{}, true)
	if init != nil {
		init(d)
	}
	if d.err != nil {
		return nil, d.err
	}
	d.stampTimestamps(t.s.now())
	if err := d.checkRequired(); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:      t.s.ids.Generate(),
		Table:   tbl.Name,
		Status:  ir.StatusCreated,
		changed: []string{},
		values:  make(ir.Object, len(tbl.Columns)),
	}
	for _, c := range tbl.Columns {
		rec.values[c.Name] = d.Get(c.Name)
	}

	cols := querysql.Columns(tbl)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
		marks[i] = "?"
	}
	args := []any{rec.ID, string(rec.Status), "[]"}
	for _, c := range tbl.Columns {
		args = append(args, querysql.Param(rec.values[c.Name]))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(tbl.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, t.fail(tbl.Name, fmt.Errorf("create record in %q: %w", tbl.Name, err))
	}

	t.created[recordKey(tbl.Name, rec.ID)] = true
	t.touched[tbl.Name] = true
	return rec.clone(), nil
}

// Find returns the record with id as seen inside this transaction.
func (t *Tx) Find(ctx context.Context, table, id string) (*Record, error) {
	if err := t.check("find"); err != nil {
		return nil, err
	}
	tbl, err := t.s.table(table)
	if err != nil {
		return nil, err
	}
	return selectByID(ctx, t.tx, tbl, id)
}

// current re-reads rec so mutations apply to the latest state.
func (t *Tx) current(ctx context.Context, rec *Record) (schema.Table, *Record, error) {
	if rec == nil {
		return schema.Table{}, nil, dberr.Validationf("", "", "record is nil")
	}
	tbl, err := t.s.table(rec.Table)
	if err != nil {
		return schema.Table{}, nil, err
	}
	cur, err := selectByID(ctx, t.tx, tbl, rec.ID)
	return tbl, cur, err
}

// Update applies mutate to the stored state of rec.
//
// changedFields becomes the union of the previous set and the columns
// assigned by this call (including auto-updated timestamps). Status becomes
// updated, except for records created earlier in this same transaction,
// which stay created. Tombstoned records cannot be updated.
func (t *Tx) Update(ctx context.Context, rec *Record, mutate func(*Draft)) (*Record, error) {
	if err := t.check("update"); err != nil {
		return nil, err
	}
	tbl, cur, err := t.current(ctx, rec)
	if err != nil {
		return nil, err
	}
	if cur.IsDeleted() {
		return nil, dberr.Validationf(tbl.Name, "", "record %s is deleted and cannot be updated", cur.ID)
	}

	d := newDraft(tbl, cur.values.Clone(), false)
	if mutate != nil {
		mutate(d)
	}
	if d.err != nil {
		return nil, d.err
	}
	d.stampTimestamps(t.s.now())
	if err := d.checkRequired(); err != nil {
		return nil, err
	}

	touched := d.touchedColumns()
	next := cur.clone()
	next.values = d.values
	next.changed = unionSorted(cur.changed, touched)
	if !(t.created[recordKey(tbl.Name, cur.ID)] && cur.Status == ir.StatusCreated) {
		next.Status = ir.StatusUpdated
	}

	changedJSON, err := encodeChanged(next.changed)
	if err != nil {
		return nil, err
	}
	sets := []string{ident(schema.ColumnStatus) + " = ?", ident(schema.ColumnChanged) + " = ?"}
	args := []any{string(next.Status), changedJSON}
	for _, c := range touched {
		sets = append(sets, ident(c)+" = ?")
		args = append(args, querysql.Param(next.values[c]))
	}
	args = append(args, cur.ID)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		ident(tbl.Name), strings.Join(sets, ", "), ident(schema.ColumnID))
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, t.fail(tbl.Name, fmt.Errorf("update record %s: %w", cur.ID, err))
	}

	t.touched[tbl.Name] = true
	return next, nil
}

// MarkDeleted tombstones rec. The record stays queryable with status
// deleted until it is destroyed or purged. Marking a tombstone is a no-op.
func (t *Tx) MarkDeleted(ctx context.Context, rec *Record) (*Record, error) {
	if err := t.check("markDeleted"); err != nil {
		return nil, err
	}
	tbl, cur, err := t.current(ctx, rec)
	if err != nil {
		return nil, err
	}
	if cur.IsDeleted() {
		return cur, nil
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		ident(tbl.Name), ident(schema.ColumnStatus), ident(schema.ColumnID))
	if _, err := t.tx.ExecContext(ctx, stmt, string(ir.StatusDeleted), cur.ID); err != nil {
		return nil, fmt.Errorf("mark record %s deleted: %w", cur.ID, err)
	}

	t.touched[tbl.Name] = true
	next := cur.clone()
	next.Status = ir.StatusDeleted
	return next, nil
}

// DestroyPermanently removes rec's physical row.
// Fails with NotFoundError if the row is already gone.
func (t *Tx) DestroyPermanently(ctx context.Context, rec *Record) error {
	if err := t.check("destroyPermanently"); err != nil {
		return err
	}
	if rec == nil {
		return dberr.Validationf("", "", "record is nil")
	}
	tbl, err := t.s.table(rec.Table)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", ident(tbl.Name), ident(schema.ColumnID))
	res, err := t.tx.ExecContext(ctx, stmt, rec.ID)
	if err != nil {
		return t.fail(tbl.Name, fmt.Errorf("destroy record %s: %w", rec.ID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("destroy record %s: rows affected: %w", rec.ID, err)
	}
	if n == 0 {
		return dberr.NotFound(tbl.Name, rec.ID)
	}

	delete(t.created, recordKey(tbl.Name, rec.ID))
	t.touched[tbl.Name] = true
	return nil
}

// PurgeDeleted physically removes every tombstone in table and returns how
// many rows were removed.
func (t *Tx) PurgeDeleted(ctx context.Context, table string) (int, error) {
	if err := t.check("purgeDeleted"); err != nil {
		return 0, err
	}
	tbl, err := t.s.table(table)
	if err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", ident(tbl.Name), ident(schema.ColumnStatus))
	res, err := t.tx.ExecContext(ctx, stmt, string(ir.StatusDeleted))
	if err != nil {
		return 0, fmt.Errorf("purge deleted from %q: %w", tbl.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge deleted from %q: rows affected: %w", tbl.Name, err)
	}
	if n > 0 {
		t.touched[tbl.Name] = true
	}
	return int(n), nil
}

// Fetch runs q inside this transaction, seeing its uncommitted writes.
func (t *Tx) Fetch(ctx context.Context, q queryir.Query) ([]*Record, error) {
	if err := t.check("fetch"); err != nil {
		return nil, err
	}
	tbl, err := t.s.table(q.Table)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, t.tx, tbl, q)
}

// Tables returns the sorted names of tables this transaction wrote.
func (t *Tx) Tables() []string {
	out := make([]string, 0, len(t.touched))
	for name := range t.touched {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Done reports whether the transaction has finished.
func (t *Tx) Done() bool {
	return t.done
}

// Commit makes the transaction's writes durable and visible.
func (t *Tx) Commit() error {
	if err := t.check("commit"); err != nil {
		return err
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return mapConstraint("", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Rollback discards the transaction's writes.
// Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
