package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lofi/internal/compiler"
	"github.com/roach88/lofi/internal/engine"
)

// loadDeclarations compiles the CUE declarations in dir. A missing
// directory is a command error; invalid declarations keep their SCHEMA or
// MIGRATION code.
func loadDeclarations(dir string) (*compiler.Declarations, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("declarations directory not found: %s", dir))
	}
	return compiler.LoadDir(dir)
}

// openEngine loads declarations from declDir and opens the configured
// database at that schema, migrating it if needed.
func openEngine(ctx context.Context, opts *RootOptions, declDir string, cmd *cobra.Command) (*engine.Engine, *compiler.Declarations, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if !opts.Verbose {
		quietLogger(cfg)
	}

	decl, err := loadDeclarations(declDir)
	if err != nil {
		return nil, nil, err
	}

	engOpts, err := engineOptions(cfg, cmd)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	e, err := engine.Open(ctx, cfg.Database.Path, decl.Schema, decl.Migrations, engOpts...)
	if err != nil {
		return nil, nil, err
	}
	return e, decl, nil
}
