package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/queryir"
)

func TestCreate_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var rec *Record
	inTx(t, s, func(tx *Tx) {
		var err error
		rec, err = tx.Create(ctx, "users", func(d *Draft) {
			d.Set("name", "Ann")
			d.Set("email", nil)
		})
		require.NoError(t, err)
	})

	assert.Equal(t, "rec-0001", rec.ID)
	assert.Equal(t, ir.StatusCreated, rec.Status)

	got, err := s.Find(ctx, "users", rec.ID)
	require.NoError(t, err)
	name, ok := got.String("name")
	assert.True(t, ok)
	assert.Equal(t, "Ann", name)
	assert.True(t, ir.IsNull(got.Get("email")))
	assert.Equal(t, ir.StatusCreated, got.Status)
	assert.Empty(t, got.ChangedFields())
	assert.True(t, rec.Equal(got))
}

func TestCreate_AllTypes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	born := time.Date(1990, 5, 1, 8, 30, 0, 0, time.UTC)

	var rec *Record
	inTx(t, s, func(tx *Tx) {
		var err error
		rec, err = tx.Create(ctx, "users", func(d *Draft) {
			d.SetAll(map[string]any{
				"name":   "Bob",
				"age":    42,
				"active": true,
				"born":   born,
			})
		})
		require.NoError(t, err)
	})

	got, err := s.Find(ctx, "users", rec.ID)
	require.NoError(t, err)
	age, _ := got.Number("age")
	assert.Equal(t, 42.0, age)
	active, _ := got.Bool("active")
	assert.True(t, active)
	b, ok := got.Time("born")
	require.True(t, ok)
	assert.True(t, born.Equal(b))
	_, ok = got.String("age")
	assert.False(t, ok)
}

func TestCreate_Timestamps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var rec *Record
	inTx(t, s, func(tx *Tx) {
		var err error
		rec, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
		require.NoError(t, err)
	})
	created, _ := rec.Number("created_at")
	updated, _ := rec.Number("updated_at")
	assert.Equal(t, float64(fixedNow.UnixMilli()), created)
	assert.Equal(t, float64(fixedNow.UnixMilli()), updated)
}

func TestCreate_ValidationErrors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		init  func(*Draft)
		field string
	}{
		{"missing required", func(d *Draft) { d.Set("email", "a@x") }, "name"},
		{"null required", func(d *Draft) { d.Set("name", nil) }, "name"},
		{"wrong type", func(d *Draft) { d.Set("name", 5) }, "name"},
		{"unknown column", func(d *Draft) { d.Set("name", "a"); d.Set("nickname", "x") }, "nickname"},
		{"non-finite", func(d *Draft) { d.Set("name", "a"); d.Set("age", ir.Number(math.Inf(1))) }, "age"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := s.Begin(ctx)
			require.NoError(t, err)
			defer tx.Rollback()

			_, err = tx.Create(ctx, "users", tt.init)
			require.Error(t, err)
			assert.True(t, dberr.IsValidation(err), "got %v", err)
			var e *dberr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Field)
		})
	}

	n, err := s.Count(ctx, queryir.New("users"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreate_UnknownTable(t *testing.T) {
	s := createTestStore(t)
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Create(context.Background(), "posts", nil)
	assert.True(t, dberr.IsValidation(err))
}

func TestUpdate_ChangedFieldsAndStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var rec *Record
	inTx(t, s, func(tx *Tx) {
		var err error
		rec, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "John") })
		require.NoError(t, err)

		// Same transaction: stays created.
		rec, err = tx.Update(ctx, rec, func(d *Draft) { d.Set("age", 30) })
		require.NoError(t, err)
		assert.Equal(t, ir.StatusCreated, rec.Status)
		assert.Equal(t, []string{"age", "updated_at"}, rec.ChangedFields())
	})

	inTx(t, s, func(tx *Tx) {
		var err error
		rec, err = tx.Update(ctx, rec, func(d *Draft) { d.Set("name", "John (Updated)") })
		require.NoError(t, err)
	})

	got, err := s.Find(ctx, "users", rec.ID)
	require.NoError(t, err)
	name, _ := got.String("name")
	assert.Equal(t, "John (Updated)", name)
	assert.Equal(t, ir.StatusUpdated, got.Status)
	assert.Equal(t, []string{"age", "name", "updated_at"}, got.ChangedFields())
	age, _ := got.Number("age")
	assert.Equal(t, 30.0, age)
}

func TestUpdate_ReadOnlyAndStale(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var rec *Record
	inTx(t, s, func(tx *Tx) {
		rec, _ = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
	})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Update(ctx, rec, func(d *Draft) { d.Set("created_at", 1) })
	require.Error(t, err)
	assert.True(t, dberr.IsValidation(err))
	assert.Contains(t, err.Error(), "read-only")

	// Updating through a stale snapshot applies to current state.
	_, err = tx.Update(ctx, rec, func(d *Draft) { d.Set("age", 1) })
	require.NoError(t, err)
	next, err := tx.Update(ctx, rec, func(d *Draft) { d.Set("active", false) })
	require.NoError(t, err)
	age, _ := next.Number("age")
	assert.Equal(t, 1.0, age)
}

func TestMarkDeleted_ThenDestroy(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var rec *Record
	inTx(t, s, func(tx *Tx) {
		rec, _ = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
	})
	inTx(t, s, func(tx *Tx) {
		del, err := tx.MarkDeleted(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, ir.StatusDeleted, del.Status)

		again, err := tx.MarkDeleted(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, ir.StatusDeleted, again.Status)

		_, err = tx.Update(ctx, rec, func(d *Draft) { d.Set("name", "x") })
		assert.True(t, dberr.IsValidation(err))
	})

	got, err := s.Find(ctx, "users", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusDeleted, got.Status)
	assert.True(t, got.IsDeleted())

	all, err := s.Fetch(ctx, queryir.New("users"))
	require.NoError(t, err)
	assert.Len(t, all, 1, "tombstones stay visible by default")
	live, err := s.Fetch(ctx, queryir.New("users", queryir.NotDeleted()))
	require.NoError(t, err)
	assert.Empty(t, live)

	inTx(t, s, func(tx *Tx) {
		require.NoError(t, tx.DestroyPermanently(ctx, rec))
		err := tx.DestroyPermanently(ctx, rec)
		assert.True(t, dberr.IsNotFound(err))
	})

	_, err = s.Find(ctx, "users", rec.ID)
	assert.True(t, dberr.IsNotFound(err))
}

func TestPurgeDeleted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *Tx) {
		for _, name := range []string{"a", "b", "c"} {
			rec, err := tx.Create(ctx, "users", func(d *Draft) { d.Set("name", name) })
			require.NoError(t, err)
			if name != "b" {
				_, err = tx.MarkDeleted(ctx, rec)
				require.NoError(t, err)
			}
		}
	})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	n, err := tx.PurgeDeleted(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"users"}, tx.Tables())
	require.NoError(t, tx.Commit())

	count, err := s.Count(ctx, queryir.New("users"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	n, err = tx.PurgeDeleted(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, tx.Tables())
	require.NoError(t, tx.Rollback())
}

func TestTx_FinishedIsOutOfScope(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.True(t, tx.Done())

	_, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Bob") })
	assert.True(t, dberr.IsTransactionScope(err))
	_, err = tx.Update(ctx, rec, nil)
	assert.True(t, dberr.IsTransactionScope(err))
	_, err = tx.MarkDeleted(ctx, rec)
	assert.True(t, dberr.IsTransactionScope(err))
	assert.True(t, dberr.IsTransactionScope(tx.DestroyPermanently(ctx, rec)))
	_, err = tx.PurgeDeleted(ctx, "users")
	assert.True(t, dberr.IsTransactionScope(err))
	_, err = tx.Find(ctx, "users", rec.ID)
	assert.True(t, dberr.IsTransactionScope(err))
	assert.True(t, dberr.IsTransactionScope(tx.Commit()))
	assert.NoError(t, tx.Rollback())
}

func TestTx_RollbackDiscards(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
	require.NoError(t, err)

	inside, err := tx.Find(ctx, "users", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, inside.ID)

	// Committed state does not see the open write.
	_, err = s.Find(ctx, "users", rec.ID)
	assert.True(t, dberr.IsNotFound(err))

	require.NoError(t, tx.Rollback())
	n, err := s.Count(ctx, queryir.New("users"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreate_UniqueConstraint(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "a"); d.Set("email", "x@y") })
	require.NoError(t, err)
	_, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "b"); d.Set("email", "x@y") })
	require.Error(t, err)
	assert.True(t, dberr.IsConstraint(err), "got %v", err)

	_, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "c") })
	assert.True(t, dberr.IsConstraint(err), "later operations report the violation, got %v", err)
	err = tx.Commit()
	assert.True(t, dberr.IsConstraint(err), "commit refuses an aborted transaction, got %v", err)
	require.NoError(t, tx.Rollback())

	n, err := s.Count(ctx, queryir.New("users"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTx_FetchSeesOwnWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
	require.NoError(t, err)
	recs, err := tx.Fetch(ctx, queryir.New("users", queryir.Eq("name", "Ann")))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
