package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/lofi/internal/migration"
	"github.com/roach88/lofi/internal/schema"
)

// Declarations is a compiled schema plus its migrations.
type Declarations struct {
	Schema     schema.Schema
	Migrations []migration.Migration
	FileCount  int
}

// LoadDir loads the CUE package in dir and compiles its top-level
// schema: and optional migrations: fields.
func LoadDir(dir string) (*Declarations, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("declarations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan declarations directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError("load", inst.Err)
	}

	d, err := compileRoot(ctx.BuildInstance(inst))
	if err != nil {
		return nil, err
	}
	d.FileCount = len(files)
	return d, nil
}

// LoadString compiles declarations from CUE source.
func LoadString(src string) (*Declarations, error) {
	ctx := cuecontext.New()
	return compileRoot(ctx.CompileString(src))
}

func compileRoot(root cue.Value) (*Declarations, error) {
	if err := root.Err(); err != nil {
		return nil, formatCUEError("build", err)
	}

	schemaVal := root.LookupPath(cue.ParsePath("schema"))
	if !schemaVal.Exists() {
		return nil, &CompileError{Field: "schema", Message: "schema is required"}
	}
	s, err := CompileSchema(schemaVal)
	if err != nil {
		return nil, err
	}

	d := &Declarations{Schema: *s, Migrations: []migration.Migration{}}
	if mv := root.LookupPath(cue.ParsePath("migrations")); mv.Exists() {
		if d.Migrations, err = CompileMigrations(mv); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
