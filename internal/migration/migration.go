package migration

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/schema"
)

// Migration is the set of steps producing schema version ToVersion.
type Migration struct {
	ToVersion int    `json:"toVersion"`
	Steps     []Step `json:"steps"`
}

// Step is a structural delta. Sealed: only this package implements it.
type Step interface {
	migrationStep()
	// TableName is the logical table the step changes.
	TableName() string
}

// CreateTable adds a new table.
type CreateTable struct {
	Table schema.Table `json:"table"`
}

func (CreateTable) migrationStep() {}

// TableName implements Step.
func (s CreateTable) TableName() string { return s.Table.Name }

// AddColumns adds columns to an existing table.
type AddColumns struct {
	Table   string          `json:"table"`
	Columns []schema.Column `json:"columns"`
}

func (AddColumns) migrationStep() {}

// TableName implements Step.
func (s AddColumns) TableName() string { return s.Table }

// DDL is the structural surface a step may use inside a migration
// transaction.
type DDL interface {
	CreateTable(ctx context.Context, t schema.Table) error
	AddColumn(ctx context.Context, table string, c schema.Column) error
}

// Target is storage that can run one version increment atomically.
// Migrate must run fn in a single transaction, record version as the
// applied schema version in the same transaction, and roll everything back
// if fn fails.
type Target interface {
	Migrate(ctx context.Context, version int, fn func(ctx context.Context, ddl DDL) error) error
}

// Validate checks migration declarations independently of any schema.
func Validate(ms []Migration) error {
	seen := make(map[int]bool, len(ms))
	for i, m := range ms {
		if m.ToVersion < 1 {
			return dberr.Migrationf("migrations[%d]: toVersion must be a positive integer, got %d", i, m.ToVersion)
		}
		if seen[m.ToVersion] {
			return dberr.Migrationf("duplicate migration to version %d", m.ToVersion)
		}
		seen[m.ToVersion] = true

		if len(m.Steps) == 0 {
			return dberr.Migrationf("migration to version %d has no steps", m.ToVersion)
		}
		for j, step := range m.Steps {
			if err := validateStep(step); err != nil {
				return dberr.Wrap(dberr.CodeMigration, err,
					"migration to version %d: steps[%d]", m.ToVersion, j)
			}
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch s := step.(type) {
	case CreateTable:
		return schema.ValidateTable(s.Table)
	case AddColumns:
		if s.Table == "" {
			return dberr.Schemaf("addColumns: table is required")
		}
		if len(s.Columns) == 0 {
			return dberr.Schemaf("addColumns: at least one column is required")
		}
		for _, c := range s.Columns {
			if err := schema.ValidateColumn(s.Table, c); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return dberr.Schemaf("step is empty")
	default:
		return dberr.Schemaf("unsupported step type %T", step)
	}
}

// Plan selects the migrations that carry storage from current to the
// target schema's version, ordered ascending by ToVersion.
//
// Every version in (current, target.Version] must have exactly one
// migration, and every step must reference a table the target schema
// declares.
func Plan(current int, target schema.Schema, ms []Migration) ([]Migration, error) {
	if current < 0 {
		return nil, dberr.Migrationf("invalid stored schema version %d", current)
	}
	if current > target.Version {
		return nil, dberr.Migrationf("stored schema version %d is newer than schema version %d: downgrade is not supported",
			current, target.Version)
	}
	if err := Validate(ms); err != nil {
		return nil, err
	}
	if current == target.Version {
		return []Migration{}, nil
	}

	byVersion := make(map[int]Migration, len(ms))
	for _, m := range ms {
		if m.ToVersion > current && m.ToVersion <= target.Version {
			byVersion[m.ToVersion] = m
		}
	}
	for v := current + 1; v <= target.Version; v++ {
		if _, ok := byVersion[v]; !ok {
			return nil, dberr.Migrationf("no upgrade path from version %d to %d: missing migration to version %d",
				current, target.Version, v)
		}
	}

	plan := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		for j, step := range m.Steps {
			if err := checkAgainstTarget(step, target); err != nil {
				return nil, dberr.Wrap(dberr.CodeMigration, err,
					"migration to version %d: steps[%d]", m.ToVersion, j)
			}
		}
		plan = append(plan, m)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].ToVersion < plan[j].ToVersion })
	return plan, nil
}

// checkAgainstTarget verifies that step agrees with the final schema.
func checkAgainstTarget(step Step, target schema.Schema) error {
	tbl, ok := target.Table(step.TableName())
	if !ok {
		return dberr.Schemaf("step references undeclared table %q", step.TableName())
	}
	var cols []schema.Column
	switch s := step.(type) {
	case CreateTable:
		cols = s.Table.Columns
	case AddColumns:
		cols = s.Columns
	}
	for _, c := range cols {
		declared, ok := tbl.Column(c.Name)
		if !ok {
			return dberr.Schemaf("step adds column %q not declared on table %q", c.Name, tbl.Name)
		}
		if declared.Type != c.Type {
			return dberr.Schemaf("step declares column %q.%q as %s but schema declares %s",
				tbl.Name, c.Name, c.Type, declared.Type)
		}
	}
	return nil
}

// Apply brings storage from current to target.Version and returns the
// resulting version. Each migration runs in its own transaction on t; when
// one fails, the returned version is the last one fully applied and the
// error is a MigrationError. current == target.Version is a no-op.
func Apply(ctx context.Context, t Target, current int, target schema.Schema, ms []Migration) (int, error) {
	plan, err := Plan(current, target, ms)
	if err != nil {
		return current, err
	}

	version := current
	for _, m := range plan {
		err := t.Migrate(ctx, m.ToVersion, func(ctx context.Context, ddl DDL) error {
			return applySteps(ctx, ddl, m.Steps)
		})
		if err != nil {
			if dberr.IsMigration(err) {
				return version, err
			}
			return version, dberr.Wrap(dberr.CodeMigration, err, "migrate to version %d", m.ToVersion)
		}
		version = m.ToVersion
	}
	return version, nil
}

func applySteps(ctx context.Context, ddl DDL, steps []Step) error {
	for i, step := range steps {
		var err error
		switch s := step.(type) {
		case CreateTable:
			err = ddl.CreateTable(ctx, schema.NormalizeTable(s.Table))
		case AddColumns:
			for _, c := range s.Columns {
				if err = ddl.AddColumn(ctx, s.Table, schema.NormalizeColumn(c)); err != nil {
					break
				}
			}
		}
		if err != nil {
			return fmt.Errorf("steps[%d] on table %q: %w", i, step.TableName(), err)
		}
	}
	return nil
}
