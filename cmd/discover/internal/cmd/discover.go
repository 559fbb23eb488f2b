package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/config"
	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/flags/enum"
	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/flags/log"
	"ocm.software/open-component-model/bindings/go/testhost/extensions"
	"ocm.software/open-component-model/bindings/go/testhost/extensions/filesystem"
	"ocm.software/open-component-model/bindings/go/testhost/internal/metrics"
	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
	"ocm.software/open-component-model/bindings/go/testhost/manager/connection"
	"ocm.software/open-component-model/bindings/go/testhost/manager/host"
	"ocm.software/open-component-model/bindings/go/testhost/manager/provider"
	"ocm.software/open-component-model/bindings/go/testhost/manager/session/discovery"
)

const (
	FlagHost           = "host"
	FlagHostArg        = "host-arg"
	FlagAttach         = "attach"
	FlagConnectTimeout = "connect-timeout"
	FlagIdleTimeout    = "idle-timeout"
	FlagFilter         = "filter"
	FlagPackage        = "package"
	FlagRunSettings    = "run-settings"
	FlagBatchSize      = "batch-size"
	FlagBatchTimeout   = "batch-timeout"
	FlagMetrics        = "metrics"
)

func registerDiscoverFlags(flags *pflag.FlagSet) {
	enum.VarP(flags, FlagOutput, "o", []string{"table", "yaml", "json"}, "output format of the discovered tests")
	flags.String(FlagHost, "", "path of the test host executable to spawn")
	flags.StringArray(FlagHostArg, nil, "argument passed to the spawned test host, can be repeated")
	flags.String(FlagAttach, "", "location of a running test host (http+unix://<socket> or http://<address>)")
	flags.Duration(FlagConnectTimeout, connection.DefaultConnectTimeout, "maximum time to wait for the test host to become ready")
	flags.Duration(FlagIdleTimeout, 0, "time after which a spawned test host without work exits")
	flags.String(FlagFilter, "", "regular expression the fully qualified test names have to match")
	flags.String(FlagPackage, "", "package the sources belong to")
	flags.String(FlagRunSettings, "", "opaque settings handed to the discoverers")
	flags.Int(FlagBatchSize, 0, "number of tests the host collects before sending them")
	flags.Duration(FlagBatchTimeout, 0, "maximum time the host holds back discovered tests")
	flags.Bool(FlagMetrics, false, "print session metrics to stderr when done")
}

// Discover runs a single discovery session for the sources given as arguments.
func Discover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	output, err := enum.Get(cmd.Flags(), FlagOutput)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	criteria, err := criteriaFromFlags(cmd.Flags(), cfg, args)
	if err != nil {
		return err
	}
	printMetrics, err := cmd.Flags().GetBool(FlagMetrics)
	if err != nil {
		return fmt.Errorf("getting metrics flag failed: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := newRegistry(cfg, m)
	if err := registry.LoadAndInitializeAll(ctx, extensions.KindDiscoverer, false); err != nil {
		return fmt.Errorf("loading discovery extensions failed: %w", err)
	}

	p, err := newProvider(cfg)
	if err != nil {
		return err
	}

	session := discovery.NewManager(p,
		discovery.WithConnectionOptions(connectionOptions(cfg)...),
		discovery.WithMetrics(m),
	)
	defer session.EndSession(ctx)

	if err := session.InitializeFromRegistry(ctx, registry); err != nil {
		return fmt.Errorf("initializing discovery session failed: %w", err)
	}

	collector := discovery.NewCollector()
	handle, err := session.RunDiscovery(ctx, criteria, collector)
	if err != nil {
		return fmt.Errorf("running discovery failed: %w", err)
	}
	complete, err := handle.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for discovery failed: %w", err)
	}

	relayLogs(ctx, collector.Logs())

	data, err := encodeTests(output, collector.Tests())
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return fmt.Errorf("writing discovered tests failed: %w", err)
	}

	if printMetrics {
		if err := writeMetrics(cmd.ErrOrStderr(), reg); err != nil {
			return err
		}
	}

	if !complete.IsSuccess() {
		if complete.Error == "" {
			return fmt.Errorf("discovery finished with status %s", complete.Status)
		}
		return fmt.Errorf("discovery finished with status %s: %s", complete.Status, complete.Error)
	}

	return nil
}

func criteriaFromFlags(flags *pflag.FlagSet, cfg *config.Config, sources []string) (v1.DiscoveryCriteria, error) {
	criteria := v1.DiscoveryCriteria{FrequencyOfDiscoveredTestsEvent: cfg.BatchSize}

	var err error
	if criteria.TestCaseFilter, err = flags.GetString(FlagFilter); err != nil {
		return criteria, fmt.Errorf("getting filter flag failed: %w", err)
	}
	if criteria.Package, err = flags.GetString(FlagPackage); err != nil {
		return criteria, fmt.Errorf("getting package flag failed: %w", err)
	}
	if criteria.RunSettings, err = flags.GetString(FlagRunSettings); err != nil {
		return criteria, fmt.Errorf("getting run-settings flag failed: %w", err)
	}
	if criteria.DiscoveredTestEventTimeout, err = flags.GetDuration(FlagBatchTimeout); err != nil {
		return criteria, fmt.Errorf("getting batch-timeout flag failed: %w", err)
	}

	for _, source := range sources {
		if abs, err := filepath.Abs(source); err == nil {
			source = abs
		}
		criteria.Sources = append(criteria.Sources, source)
	}

	return criteria, nil
}

func newRegistry(cfg *config.Config, m *metrics.Metrics) *extensions.Registry {
	return extensions.NewRegistry(filesystem.NewLoader(cfg.ExtensionDirectory),
		extensions.WithAdditionalExtensions(cfg.AdditionalExtensions...),
		extensions.WithLoadOnlyWellKnown(cfg.LoadOnlyWellKnown),
		extensions.WithMetrics(m),
	)
}

// newProvider attaches to a running host if configured and spawns cfg.HostPath otherwise.
func newProvider(cfg *config.Config) (provider.Provider, error) {
	if cfg.Attach != "" {
		location, typ, ok := host.ParseLocation(cfg.Attach)
		if !ok {
			return nil, fmt.Errorf("unsupported host location %q, expected %s<socket> or %s<address>", cfg.Attach, host.SchemeUnix, host.SchemeTCP)
		}
		return &provider.AttachProvider{Location: location, Type: typ}, nil
	}
	if cfg.HostPath != "" {
		return provider.NewProcessProvider(cfg.HostPath, cfg.HostArgs...), nil
	}
	return nil, errors.New("either a test host executable or a host location to attach to is required")
}

func connectionOptions(cfg *config.Config) []connection.OptionFn {
	opts := []connection.OptionFn{
		connection.WithConnectTimeout(cfg.ConnectTimeout.Timeout(connection.DefaultConnectTimeout)),
	}
	if idle := cfg.IdleTimeout.Timeout(0); idle > 0 {
		opts = append(opts, connection.WithIdleTimeout(idle))
	}
	return opts
}

// relayLogs writes the messages the host surfaced to the command logger.
func relayLogs(ctx context.Context, messages []v1.LogMessage) {
	for _, message := range messages {
		slogcontext.Log(ctx, log.ParseLevel(message.Level), message.Message, "origin", "testhost")
	}
}
