// Package cli implements the tradepost command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tradepost/internal/app"
	"tradepost/internal/config"
	"tradepost/internal/telemetry"
)

// RootOptions holds global flags and the configuration resolved from them.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is populated by the root command before any subcommand runs.
	Config config.Config

	viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tradepost CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: config.New()}

	cmd := &cobra.Command{
		Use:   "tradepost",
		Short: "Manage tradepost catalogs",
		Long: `tradepost keeps the purchasable catalogs (incidents, weather, items) in
step with the descriptors the game reports, while preserving every setting an
operator has made.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if err := config.ReadFile(opts.viper, opts.ConfigFile); err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			cfg, err := config.Load(opts.viper)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid config", err)
			}
			if opts.Verbose {
				cfg.LogLevel = "debug"
			}
			opts.Config = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default .tradepost.yaml)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("data-dir", "", "directory holding catalog documents (fs and sqlite drivers)")
	flags.String("source-dir", "", "directory holding <catalog>.{yaml,yml,json,toml} descriptor files")
	flags.String("storage", "", "document backend (fs|memory|s3|sqlite|postgres)")
	_ = opts.viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = opts.viper.BindPFlag("source_dir", flags.Lookup("source-dir"))
	_ = opts.viper.BindPFlag("storage.driver", flags.Lookup("storage"))

	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewReloadCommand(opts))
	cmd.AddCommand(NewRebuildCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewBackupsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// withApp opens the engine, runs fn and then runs the shutdown save. A failed
// shutdown save is reported even when fn succeeded.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error, extra ...app.Option) (err error) {
	ctx := cmd.Context()
	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), o.Config.LogLevel, o.Config.LogFormat)
	if err != nil {
		return WrapExitError(ExitCommandError, "configure logging", err)
	}
	a, err := app.New(ctx, o.Config, append([]app.Option{app.WithLogger(logger)}, extra...)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "open catalogs", err)
	}
	defer func() {
		// the command context is cancelled by SIGINT; the shutdown save must still run
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "shutdown save failed", cerr)
		}
	}()
	return fn(ctx, a)
}
