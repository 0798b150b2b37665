package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/lofi/internal/migration"
)

// CompileMigrations parses a CUE list of migration declarations:
//
//	migrations: [{
//		toVersion: 2
//		steps: [{addColumns: {table: "users", columns: [{name: "age", type: "number"}]}}]
//	}]
//
// Each step holds exactly one of createTable or addColumns.
func CompileMigrations(v cue.Value) ([]migration.Migration, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("migrations", err)
	}

	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError("migrations", err)
	}

	ms := []migration.Migration{}
	for i := 0; iter.Next(); i++ {
		field := fmt.Sprintf("migrations[%d]", i)
		mv := iter.Value()

		version, err := requiredInt(mv, field, "toVersion")
		if err != nil {
			return nil, err
		}
		m := migration.Migration{ToVersion: version}

		stepsVal := mv.LookupPath(cue.ParsePath("steps"))
		if !stepsVal.Exists() {
			return nil, &CompileError{Field: field + ".steps", Message: "steps are required", Pos: mv.Pos()}
		}
		stepIter, err := stepsVal.List()
		if err != nil {
			return nil, formatCUEError(field+".steps", err)
		}
		for j := 0; stepIter.Next(); j++ {
			step, err := compileStep(stepIter.Value(), fmt.Sprintf("%s.steps[%d]", field, j))
			if err != nil {
				return nil, err
			}
			m.Steps = append(m.Steps, step)
		}
		ms = append(ms, m)
	}

	if err := migration.Validate(ms); err != nil {
		return nil, &CompileError{Field: "migrations", Message: err.Error(), Pos: v.Pos()}
	}
	return ms, nil
}

func compileStep(v cue.Value, field string) (migration.Step, error) {
	create := v.LookupPath(cue.ParsePath("createTable"))
	add := v.LookupPath(cue.ParsePath("addColumns"))

	switch {
	case create.Exists() && add.Exists():
		return nil, &CompileError{Field: field, Message: "step must hold exactly one of createTable or addColumns", Pos: v.Pos()}
	case create.Exists():
		t, err := compileTable(create, field+".createTable")
		if err != nil {
			return nil, err
		}
		return migration.CreateTable{Table: t}, nil
	case add.Exists():
		table, err := requiredString(add, field+".addColumns", "table")
		if err != nil {
			return nil, err
		}
		cols, err := compileColumns(add.LookupPath(cue.ParsePath("columns")), field+".addColumns.columns")
		if err != nil {
			return nil, err
		}
		return migration.AddColumns{Table: table, Columns: cols}, nil
	default:
		return nil, &CompileError{Field: field, Message: "unknown step kind (want createTable or addColumns)", Pos: v.Pos()}
	}
}
