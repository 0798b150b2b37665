package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/queryir"
	"github.com/roach88/lofi/internal/querysql"
	"github.com/roach88/lofi/internal/schema"
)

// Find returns the committed record with id.
// Fails with NotFoundError when no row exists, tombstones included.
func (s *Store) Find(ctx context.Context, table, id string) (*Record, error) {
	tbl, err := s.table(table)
	if err != nil {
		return nil, err
	}
	return selectByID(ctx, s.db, tbl, id)
}

// Fetch runs q against committed state.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Fetch(ctx context.Context, q queryir.Query) ([]*Record, error) {
	tbl, err := s.table(q.Table)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, s.db, tbl, q)
}

// Count returns the number of committed records matching q.
func (s *Store) Count(ctx context.Context, q queryir.Query) (int, error) {
	tbl, err := s.table(q.Table)
	if err != nil {
		return 0, err
	}
	stmt, args, err := querysql.CompileCount(q, tbl)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %q: %w", tbl.Name, err)
	}
	return n, nil
}

func selectByID(ctx context.Context, q queryer, tbl schema.Table, id string) (*Record, error) {
	recs, err := fetch(ctx, q, tbl, queryir.New(tbl.Name, queryir.Eq(schema.ColumnID, id)))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, dberr.NotFound(tbl.Name, id)
	}
	return recs[0], nil
}

func fetch(ctx context.Context, q queryer, tbl schema.Table, query queryir.Query) ([]*Record, error) {
	stmt, args, err := querysql.Compile(query, tbl)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", tbl.Name, err)
	}
	defer rows.Close()

	recs := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, tbl)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %q: %w", tbl.Name, err)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows, tbl schema.Table) (*Record, error) {
	n := 3 + len(tbl.Columns)
	raw := make([]any, n)
	dest := make([]any, n)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %q: %w", tbl.Name, err)
	}

	id, err := textOf(raw[0])
	if err != nil {
		return nil, fmt.Errorf("scan %q id: %w", tbl.Name, err)
	}
	statusText, err := textOf(raw[1])
	if err != nil {
		return nil, fmt.Errorf("scan %q status: %w", tbl.Name, err)
	}
	status, err := ir.ParseStatus(statusText)
	if err != nil {
		return nil, fmt.Errorf("scan %q record %s: %w", tbl.Name, id, err)
	}
	changedText, err := textOf(raw[2])
	if err != nil {
		return nil, fmt.Errorf("scan %q changed: %w", tbl.Name, err)
	}
	changed, err := decodeChanged(changedText)
	if err != nil {
		return nil, fmt.Errorf("scan %q record %s: %w", tbl.Name, id, err)
	}

	rec := &Record{
		ID:      id,
		Table:   tbl.Name,
		Status:  status,
		changed: changed,
		values:  make(ir.Object, len(tbl.Columns)),
	}
	for i, c := range tbl.Columns {
		v, err := decodeColumn(raw[3+i], c)
		if err != nil {
			return nil, fmt.Errorf("scan %q record %s: %w", tbl.Name, id, err)
		}
		rec.values[c.Name] = v
	}
	return rec, nil
}

func textOf(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected text, got %T", raw)
	}
}
