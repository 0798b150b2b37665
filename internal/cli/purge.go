package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Decl string
}

// PurgeResult reports how many deleted records were removed.
type PurgeResult struct {
	Table  string `json:"table"`
	Purged int    `json:"purged"`
}

func (r PurgeResult) String() string {
	return fmt.Sprintf("\u2713 Purged %d deleted record(s) from %s", r.Purged, r.Table)
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge <table>",
		Short: "Permanently remove records marked deleted",
		Long: `Permanently remove every record in a table whose status is deleted.

Runs in one write transaction; live observers of the table are notified
once when it commits.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Decl, "decl", "", "declarations directory (required)")
	_ = cmd.MarkFlagRequired("decl")

	return cmd
}

func runPurge(opts *PurgeOptions, table string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	e, _, err := openEngine(cmd.Context(), opts.RootOptions, opts.Decl, cmd)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	n, err := e.PurgeDeleted(cmd.Context(), table)
	if err != nil {
		return formatter.Fail("purge failed", err)
	}
	formatter.VerboseLog("Purged %d record(s), sequence %d", n, e.Seq())
	return formatter.Success(PurgeResult{Table: table, Purged: n})
}
