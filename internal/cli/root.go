package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lofi/internal/config"
	"github.com/roach88/lofi/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	DB         string // overrides database.path
	ConfigPath string // YAML config file
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lofi CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lofi",
		Short: "lofi - local-first reactive data store",
		Long:  "Declare tables, migrate a SQLite database, query records and run deterministic scenarios.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "database file (overrides config and LOFI_DB)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// loadConfig resolves configuration in order: defaults, config file,
// LOFI_* environment variables, then flags.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := config.LoadFromFile(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if o.DB != "" {
		cfg.Database.Path = o.DB
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// engineOptions translates cfg into engine options. The logger writes to
// the command's stderr.
func engineOptions(cfg *config.Config, cmd *cobra.Command) ([]engine.Option, error) {
	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	mode, err := engine.ParseWriteMode(cfg.Database.WriteMode)
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithLogger(logger),
		engine.WithWriteMode(mode),
		engine.WithBusyTimeout(cfg.Database.BusyTimeout),
		engine.WithReadConns(cfg.Database.ReadConns),
	}, nil
}

// quietLogger raises the default info level to warn so routine engine
// logs stay off the terminal.
func quietLogger(cfg *config.Config) {
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
}
