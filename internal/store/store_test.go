package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/migration"
	"github.com/roach88/lofi/internal/schema"
)

// seqIDs returns rec-0001, rec-0002, ...
type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) Generate() string { return fmt.Sprintf("rec-%04d", g.n.Add(1)) }

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func usersSchema() schema.Schema {
	return schema.Schema{
		Version: 1,
		Tables: []schema.Table{{
			Name: "users",
			Columns: []schema.Column{
				{Name: "name", Type: schema.TypeString},
				{Name: "email", Type: schema.TypeString, Optional: true, Unique: true},
				{Name: "age", Type: schema.TypeNumber, Optional: true, Indexed: true},
				{Name: "active", Type: schema.TypeBoolean, Optional: true},
				{Name: "born", Type: schema.TypeDate, Optional: true},
				{Name: "created_at", Type: schema.TypeNumber},
				{Name: "updated_at", Type: schema.TypeNumber},
			},
		}},
	}
}

// createTestStore opens a store with usersSchema materialized.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(usersSchema()))

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithCatalog(reg),
		WithIDGenerator(&seqIDs{}),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, schema.Materialize(context.Background(), s, usersSchema()))
	return s
}

// inTx runs fn in a transaction and commits it.
func inTx(t *testing.T, s *Store, fn func(tx *Tx)) {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NotEmpty(t, s.Path())
	assert.NotNil(t, s.DB())
}

func TestOpen_RejectsMemory(t *testing.T) {
	_, err := Open(":memory:")
	assert.Error(t, err)
	_, err = Open("")
	assert.Error(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	v, err := s2.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestSchemaMeta(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	h, err := s.SchemaHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, h)

	require.NoError(t, s.SetSchemaMeta(ctx, 3, "abc"))
	v, _ = s.SchemaVersion(ctx)
	assert.Equal(t, 3, v)
	h, _ = s.SchemaHash(ctx)
	assert.Equal(t, "abc", h)

	require.NoError(t, s.SetSchemaMeta(ctx, 4, "def"))
	v, _ = s.SchemaVersion(ctx)
	assert.Equal(t, 4, v)
}

func TestEnsureTable_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var rec *Record
	inTx(t, s, func(tx *Tx) {
		var err error
		rec, err = tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
		require.NoError(t, err)
	})

	require.NoError(t, schema.Materialize(ctx, s, usersSchema()))

	got, err := s.Find(ctx, "users", rec.ID)
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))
}

func TestEnsureTable_AddsMissingColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	wider := schema.NormalizeTable(usersSchema().Tables[0])
	wider.Columns = append(wider.Columns, schema.Column{Name: "nickname", Type: schema.TypeString, Optional: true})
	require.NoError(t, s.EnsureTable(ctx, wider))

	cols, err := tableColumns(ctx, s.DB(), "users")
	require.NoError(t, err)
	assert.Equal(t, "TEXT", cols["nickname"])
	assert.Equal(t, "TEXT", cols["_changed"])
}

func TestEnsureTable_TypeConflict(t *testing.T) {
	s := createTestStore(t)
	changed := schema.NormalizeTable(usersSchema().Tables[0])
	changed.Columns[0].Type = schema.TypeNumber
	err := s.EnsureTable(context.Background(), changed)
	require.Error(t, err)
	assert.True(t, dberr.IsSchema(err))
}

func TestMigrate_RecordsVersionAtomically(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetSchemaMeta(ctx, 1, "h1"))

	err := s.Migrate(ctx, 2, func(ctx context.Context, ddl migration.DDL) error {
		return ddl.AddColumn(ctx, "users", schema.Column{Name: "score", Type: schema.TypeNumber})
	})
	require.NoError(t, err)
	v, _ := s.SchemaVersion(ctx)
	assert.Equal(t, 2, v)

	// A failing increment rolls back its DDL and leaves the version alone.
	err = s.Migrate(ctx, 3, func(ctx context.Context, ddl migration.DDL) error {
		if err := ddl.CreateTable(ctx, schema.Table{Name: "posts", Columns: []schema.Column{{Name: "title", Type: schema.TypeString}}}); err != nil {
			return err
		}
		return ddl.AddColumn(ctx, "ghosts", schema.Column{Name: "x", Type: schema.TypeString})
	})
	require.Error(t, err)
	assert.True(t, dberr.IsMigration(err))

	v, _ = s.SchemaVersion(ctx)
	assert.Equal(t, 2, v)
	exists, err := tableExists(ctx, s.DB(), "posts")
	require.NoError(t, err)
	assert.False(t, exists)

	err = s.Migrate(ctx, 2, func(context.Context, migration.DDL) error { return nil })
	assert.True(t, dberr.IsMigration(err))
}

func TestMigrate_BackfillsRequiredColumn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *Tx) {
		_, err := tx.Create(ctx, "users", func(d *Draft) { d.Set("name", "Ann") })
		require.NoError(t, err)
	})

	err := s.Migrate(ctx, 2, func(ctx context.Context, ddl migration.DDL) error {
		return ddl.AddColumn(ctx, "users", schema.Column{Name: "score", Type: schema.TypeNumber})
	})
	require.NoError(t, err)

	var score float64
	var changed string
	require.NoError(t, s.DB().QueryRow(`SELECT "score", "_changed" FROM "users"`).Scan(&score, &changed))
	assert.Equal(t, float64(0), score)
	assert.Equal(t, "[]", changed)
}
