package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lofi/internal/migration"
	"github.com/roach88/lofi/internal/schema"
)

// ValidationResult describes a valid set of declarations.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Version    int      `json:"version"`
	Hash       string   `json:"hash"`
	Tables     []string `json:"tables"`
	Migrations []int    `json:"migrations"`
	Files      int      `json:"files"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\u2713 Declarations valid (schema version %d)\n", r.Version)
	fmt.Fprintf(&b, "  tables:     %s\n", strings.Join(r.Tables, ", "))
	if len(r.Migrations) > 0 {
		versions := make([]string, len(r.Migrations))
		for i, v := range r.Migrations {
			versions[i] = fmt.Sprintf("v%d", v)
		}
		fmt.Fprintf(&b, "  migrations: %s\n", strings.Join(versions, ", "))
	}
	fmt.Fprintf(&b, "  hash:       %s", r.Hash)
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <declarations-dir>",
		Short: "Validate schema and migration declarations",
		Long: `Validate CUE schema and migration declarations without opening a database.

Compiles the schema: and migrations: fields, checks table and column
rules, and checks that every migration fits the declared schema.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, declDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	decl, err := loadDeclarations(declDir)
	if err != nil {
		return formatter.Fail("invalid declarations", err)
	}
	formatter.VerboseLog("Compiled %d CUE file(s) in %s", decl.FileCount, declDir)

	if err := checkMigrations(decl.Schema, decl.Migrations); err != nil {
		return formatter.Fail("invalid migrations", err)
	}
	hash, err := schema.Hash(decl.Schema)
	if err != nil {
		return formatter.Fail("invalid declarations", err)
	}

	result := ValidationResult{
		Valid:      true,
		Version:    decl.Schema.Version,
		Hash:       hash,
		Tables:     decl.Schema.TableNames(),
		Migrations: make([]int, 0, len(decl.Migrations)),
		Files:      decl.FileCount,
	}
	for _, m := range decl.Migrations {
		result.Migrations = append(result.Migrations, m.ToVersion)
	}
	return formatter.Success(result)
}

// checkMigrations plans an upgrade from the version below the oldest
// declared migration, which checks every step against the schema.
func checkMigrations(s schema.Schema, ms []migration.Migration) error {
	base := s.Version
	for _, m := range ms {
		base = min(base, m.ToVersion)
	}
	if base == s.Version && len(ms) == 0 {
		return nil
	}
	_, err := migration.Plan(max(base-1, 0), s, ms)
	return err
}
