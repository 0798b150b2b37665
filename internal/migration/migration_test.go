package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/schema"
)

// fakeTarget records DDL per version and commits only when fn succeeds.
type fakeTarget struct {
	version   int
	applied   []string
	failOn    string
	migrateFn func(version int) error
}

type fakeDDL struct {
	t       *fakeTarget
	pending []string
}

func (d *fakeDDL) CreateTable(_ context.Context, t schema.Table) error {
	if t.Name == d.t.failOn {
		return errors.New("boom")
	}
	d.pending = append(d.pending, "create "+t.Name)
	return nil
}

func (d *fakeDDL) AddColumn(_ context.Context, table string, c schema.Column) error {
	if table+"."+c.Name == d.t.failOn {
		return errors.New("boom")
	}
	d.pending = append(d.pending, "add "+table+"."+c.Name)
	return nil
}

func (f *fakeTarget) Migrate(ctx context.Context, version int, fn func(context.Context, DDL) error) error {
	if f.migrateFn != nil {
		if err := f.migrateFn(version); err != nil {
			return err
		}
	}
	ddl := &fakeDDL{t: f}
	if err := fn(ctx, ddl); err != nil {
		return err
	}
	f.applied = append(f.applied, ddl.pending...)
	f.version = version
	return nil
}

func schemaV(version int, tables ...schema.Table) schema.Schema {
	return schema.Schema{Version: version, Tables: tables}
}

var (
	usersV1 = schema.Table{Name: "users", Columns: []schema.Column{
		{Name: "name", Type: schema.TypeString},
	}}
	usersV2 = schema.Table{Name: "users", Columns: []schema.Column{
		{Name: "name", Type: schema.TypeString},
		{Name: "age", Type: schema.TypeNumber, Optional: true},
	}}
	posts = schema.Table{Name: "posts", Columns: []schema.Column{
		{Name: "title", Type: schema.TypeString},
	}}
)

func upgrades() []Migration {
	return []Migration{
		{ToVersion: 3, Steps: []Step{CreateTable{Table: posts}}},
		{ToVersion: 2, Steps: []Step{AddColumns{Table: "users", Columns: []schema.Column{
			{Name: "age", Type: schema.TypeNumber, Optional: true},
		}}}},
	}
}

func TestPlan_SelectsAscendingSubsequence(t *testing.T) {
	plan, err := Plan(1, schemaV(3, usersV2, posts), upgrades())
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, 2, plan[0].ToVersion)
	assert.Equal(t, 3, plan[1].ToVersion)

	plan, err = Plan(2, schemaV(3, usersV2, posts), upgrades())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, 3, plan[0].ToVersion)
}

func TestPlan_IgnoresMigrationsBeyondTarget(t *testing.T) {
	plan, err := Plan(1, schemaV(2, usersV2), upgrades())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, 2, plan[0].ToVersion)
}

func TestPlan_AlreadyCurrent(t *testing.T) {
	plan, err := Plan(3, schemaV(3, usersV2, posts), upgrades())
	require.NoError(t, err)
	assert.NotNil(t, plan)
	assert.Empty(t, plan)
}

func TestPlan_Errors(t *testing.T) {
	tests := []struct {
		name    string
		current int
		target  schema.Schema
		ms      []Migration
		want    string
	}{
		{"downgrade", 4, schemaV(3, usersV2, posts), upgrades(), "downgrade"},
		{"negative current", -1, schemaV(1, usersV1), nil, "invalid stored schema version"},
		{"gap", 1, schemaV(3, usersV2, posts), upgrades()[:1], "missing migration to version 2"},
		{"no migrations", 1, schemaV(2, usersV2), nil, "no upgrade path"},
		{"duplicate", 1, schemaV(2, usersV2), append(upgrades(), upgrades()[1]), "duplicate migration"},
		{"undeclared table", 2, schemaV(3, usersV2), upgrades(), `undeclared table "posts"`},
		{"undeclared column", 1, schemaV(2, usersV1), upgrades()[1:], `column "age" not declared`},
		{"type mismatch", 1, schemaV(2, schema.Table{Name: "users", Columns: []schema.Column{
			{Name: "name", Type: schema.TypeString},
			{Name: "age", Type: schema.TypeString},
		}}), upgrades()[1:], "as number but schema declares string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.current, tt.target, tt.ms)
			require.Error(t, err)
			assert.True(t, dberr.IsMigration(err), "expected MigrationError, got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(upgrades()))
	require.NoError(t, Validate(nil))

	tests := []struct {
		name string
		ms   []Migration
		want string
	}{
		{"zero version", []Migration{{ToVersion: 0, Steps: upgrades()[0].Steps}}, "positive integer"},
		{"no steps", []Migration{{ToVersion: 2}}, "has no steps"},
		{"nil step", []Migration{{ToVersion: 2, Steps: []Step{nil}}}, "step is empty"},
		{"addColumns without table", []Migration{{ToVersion: 2, Steps: []Step{AddColumns{
			Columns: []schema.Column{{Name: "a", Type: schema.TypeString}},
		}}}}, "table is required"},
		{"addColumns without columns", []Migration{{ToVersion: 2, Steps: []Step{AddColumns{Table: "users"}}}}, "at least one column"},
		{"reserved column", []Migration{{ToVersion: 2, Steps: []Step{AddColumns{Table: "users",
			Columns: []schema.Column{{Name: "_x", Type: schema.TypeString}},
		}}}}, "reserved"},
		{"bad createTable", []Migration{{ToVersion: 2, Steps: []Step{CreateTable{Table: schema.Table{Name: "t"}}}}}, "at least one column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ms)
			require.Error(t, err)
			assert.True(t, dberr.IsMigration(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApply_RunsEachIncrement(t *testing.T) {
	target := &fakeTarget{version: 1}
	v, err := Apply(context.Background(), target, 1, schemaV(3, usersV2, posts), upgrades())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, target.version)
	assert.Equal(t, []string{"add users.age", "create posts"}, target.applied)
}

func TestApply_NoOpWhenCurrent(t *testing.T) {
	target := &fakeTarget{version: 3, migrateFn: func(int) error {
		return errors.New("must not be called")
	}}
	v, err := Apply(context.Background(), target, 3, schemaV(3, usersV2, posts), upgrades())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Empty(t, target.applied)
}

func TestApply_FailureStopsAtLastGoodVersion(t *testing.T) {
	target := &fakeTarget{version: 1, failOn: "posts"}
	v, err := Apply(context.Background(), target, 1, schemaV(3, usersV2, posts), upgrades())
	require.Error(t, err)
	assert.True(t, dberr.IsMigration(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, target.version)
	assert.Equal(t, []string{"add users.age"}, target.applied)
}

func TestApply_TargetErrorIsMigrationError(t *testing.T) {
	target := &fakeTarget{version: 1, migrateFn: func(int) error {
		return errors.New("database is locked")
	}}
	v, err := Apply(context.Background(), target, 1, schemaV(2, usersV2), upgrades())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberr.ErrMigration))
	assert.Equal(t, 1, v)
}

func TestApply_NormalizesColumns(t *testing.T) {
	var got []schema.Column
	ddl := &capturingDDL{cols: &got}
	target := &captureTarget{ddl: ddl}
	ms := []Migration{{ToVersion: 2, Steps: []Step{AddColumns{Table: "users", Columns: []schema.Column{
		{Name: "updated_at", Type: schema.TypeNumber},
	}}}}}
	users := schema.Table{Name: "users", Columns: []schema.Column{
		{Name: "name", Type: schema.TypeString},
		{Name: "updated_at", Type: schema.TypeNumber},
	}}
	_, err := Apply(context.Background(), target, 1, schemaV(2, users), ms)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.TimestampUpdated, got[0].Timestamp)
}

type capturingDDL struct{ cols *[]schema.Column }

func (d *capturingDDL) CreateTable(context.Context, schema.Table) error { return nil }
func (d *capturingDDL) AddColumn(_ context.Context, _ string, c schema.Column) error {
	*d.cols = append(*d.cols, c)
	return nil
}

type captureTarget struct{ ddl DDL }

func (c *captureTarget) Migrate(ctx context.Context, _ int, fn func(context.Context, DDL) error) error {
	return fn(ctx, c.ddl)
}
