// Command testhost is the bundled test host. It is started by the discovery session manager with
// a --config flag and discovers go tests.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/bindings/go/testhost/client/sdk"
	"ocm.software/open-component-model/bindings/go/testhost/internal/testhost"
	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

func main() {
	configData := pflag.String("config", "", "Host config.")
	extensionDir := pflag.String("extension-directory", "", "Directory holding the well known extensions.")
	debug := pflag.Bool("debug", false, "Enable debug logging.")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	// stdout is reserved for the location of the host.
	logger := slog.New(slogcontext.NewHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}), nil))

	if *configData == "" {
		logger.Error("missing required flag --config")
		os.Exit(1)
	}

	conf := types.Config{}
	if err := json.Unmarshal([]byte(*configData), &conf); err != nil {
		logger.Error("invalid host configuration", "error", err)
		os.Exit(1)
	}

	if conf.ID == "" {
		logger.Error("host ID is required")
		os.Exit(1)
	}

	slog.SetDefault(logger)
	ctx := slogcontext.With(slogcontext.NewCtx(context.Background(), logger), "host", conf.ID)
	h := sdk.NewHost(ctx, logger, conf, os.Stdout)
	if err := h.RegisterDiscoverer(&testhost.GoTestDiscoverer{WellKnownDirectory: *extensionDir}); err != nil {
		logger.Error("failed to register discoverer", "error", err)
		os.Exit(1)
	}

	if err := h.Start(ctx); err != nil {
		logger.Error("test host stopped", "error", err)
		os.Exit(1)
	}
}
