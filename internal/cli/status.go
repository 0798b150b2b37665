package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lofi/internal/store"
)

// StatusResult reports the schema recorded in a database file.
type StatusResult struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Hash    string `json:"hash,omitempty"`
}

func (r StatusResult) String() string {
	if r.Version == 0 {
		return fmt.Sprintf("%s: no schema applied", r.Path)
	}
	return fmt.Sprintf("%s: schema version %d (hash %s)", r.Path, r.Version, r.Hash)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version stored in a database",
		Long: `Show the schema version and hash recorded in the configured database.

Reads metadata only; no declarations are needed and nothing is migrated.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail("failed to load config", WrapExitError(ExitCommandError, "config", err))
	}
	path := cfg.Database.Path
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return formatter.Fail("database not found", NewExitError(ExitCommandError, path))
	}

	st, err := store.Open(path, store.WithBusyTimeout(cfg.Database.BusyTimeout), store.WithReadConns(1))
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return formatter.Fail("failed to read schema version", err)
	}
	hash, err := st.SchemaHash(ctx)
	if err != nil {
		return formatter.Fail("failed to read schema hash", err)
	}

	return formatter.Success(StatusResult{Path: path, Version: version, Hash: hash})
}
