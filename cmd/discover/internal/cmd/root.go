package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/config"
	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/flags/log"
)

const (
	FlagConfig             = "config"
	FlagExtensionDirectory = "extension-directory"
	FlagExtension          = "extension"
	FlagLoadOnlyWellKnown  = "load-only-well-known"
	FlagOutput             = "output"
)

// New creates the discover root command with all sub commands.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover [source...]",
		Short: "Discover tests in source files with an out of process test host",
		Long: `Discover starts a test host, hands it the given sources and prints the tests it found.

The test host is either spawned from --host or attached to with --attach. Discovery extensions
are read from the well known --extension-directory and from every --extension location and are
announced to the host before discovery starts.`,
		Example: `  discover --host ./bin/testhost ./pkg/...
  discover --host ./bin/testhost --filter '^TestParse' -o json ./internal
  discover --attach http+unix:///tmp/abc-testhost.socket ./main_test.go
  discover extensions --extension-directory /opt/testhost/extensions`,
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: setup,
		RunE:              Discover,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	log.RegisterLoggingFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().String(FlagConfig, "", fmt.Sprintf("path to the configuration file, defaults to $%s", config.EnvConfig))
	cmd.PersistentFlags().String(FlagExtensionDirectory, "", "directory holding the well known extensions")
	cmd.PersistentFlags().StringSlice(FlagExtension, nil, "additional extension location, can be repeated")
	cmd.PersistentFlags().Bool(FlagLoadOnlyWellKnown, false, "only use well known extensions")

	registerDiscoverFlags(cmd.Flags())

	cmd.AddCommand(NewExtensions())

	return cmd
}

// setup configures logging and loads the configuration for every command.
func setup(cmd *cobra.Command, _ []string) error {
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("could not configure logging: %w", err)
	}
	slog.SetDefault(logger)

	path, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return fmt.Errorf("getting config flag failed: %w", err)
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = slogcontext.NewCtx(ctx, logger)
	cmd.SetContext(config.WithConfig(ctx, cfg))

	return nil
}

// applyFlags overrides values of cfg with the flags that were set explicitly.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	var err error
	if changed(FlagExtensionDirectory) {
		if cfg.ExtensionDirectory, err = flags.GetString(FlagExtensionDirectory); err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagExtensionDirectory, err)
		}
	}
	if changed(FlagExtension) {
		paths, err := flags.GetStringSlice(FlagExtension)
		if err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagExtension, err)
		}
		cfg.AdditionalExtensions = append(cfg.AdditionalExtensions, paths...)
	}
	if changed(FlagLoadOnlyWellKnown) {
		if cfg.LoadOnlyWellKnown, err = flags.GetBool(FlagLoadOnlyWellKnown); err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagLoadOnlyWellKnown, err)
		}
	}
	if changed(FlagHost) {
		if cfg.HostPath, err = flags.GetString(FlagHost); err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagHost, err)
		}
	}
	if changed(FlagHostArg) {
		if cfg.HostArgs, err = flags.GetStringArray(FlagHostArg); err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagHostArg, err)
		}
	}
	if changed(FlagAttach) {
		if cfg.Attach, err = flags.GetString(FlagAttach); err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagAttach, err)
		}
	}
	if changed(FlagConnectTimeout) {
		d, err := flags.GetDuration(FlagConnectTimeout)
		if err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagConnectTimeout, err)
		}
		cfg.ConnectTimeout = &config.Duration{Duration: d}
	}
	if changed(FlagIdleTimeout) {
		d, err := flags.GetDuration(FlagIdleTimeout)
		if err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagIdleTimeout, err)
		}
		cfg.IdleTimeout = &config.Duration{Duration: d}
	}
	if changed(FlagBatchSize) {
		if cfg.BatchSize, err = flags.GetInt(FlagBatchSize); err != nil {
			return fmt.Errorf("getting %s flag failed: %w", FlagBatchSize, err)
		}
	}

	return nil
}
