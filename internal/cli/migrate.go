package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult reports the outcome of opening a database at a schema.
type MigrateResult struct {
	Path        string `json:"path"`
	FromVersion int    `json:"from_version"`
	ToVersion   int    `json:"to_version"`
	Hash        string `json:"hash"`
}

func (r MigrateResult) String() string {
	switch {
	case r.FromVersion == 0:
		return fmt.Sprintf("\u2713 Created %s at schema version %d", r.Path, r.ToVersion)
	case r.FromVersion == r.ToVersion:
		return fmt.Sprintf("\u2713 %s is up to date (schema version %d)", r.Path, r.ToVersion)
	default:
		return fmt.Sprintf("\u2713 Migrated %s from version %d to %d", r.Path, r.FromVersion, r.ToVersion)
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <declarations-dir>",
		Short: "Bring a database to the declared schema",
		Long: `Open the database and bring it to the declared schema version.

A new database is created at the declared version directly. An existing
database is upgraded one migration at a time; a failed step leaves it at
the last fully applied version.

Exit codes:
  0 - Database is at the declared version
  1 - Invalid declarations or migration failure
  2 - Command error (missing directory, bad config)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, declDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	e, _, err := openEngine(cmd.Context(), opts, declDir, cmd)
	if err != nil {
		return formatter.Fail("migration failed", err)
	}
	defer e.Close()

	formatter.VerboseLog("Opened %s", e.Path())
	return formatter.Success(MigrateResult{
		Path:        e.Path(),
		FromVersion: e.PreviousVersion(),
		ToVersion:   e.Version(),
		Hash:        e.Hash(),
	})
}
