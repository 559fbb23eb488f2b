// Package sdk is a package for writing test hosts in go that can be driven by the discovery session manager.
// It takes care of a host's life-cycle:
//   - starting the host and printing the location it listens on
//   - graceful shutdown on interrupts and on the shutdown endpoint
//   - idle check ( after a configured amount of time without work the host shuts itself down )
//   - serving the discovery protocol and streaming results back
//
// A host is started with a `--config` option holding a JSON encoded types.Config:
//
//	configData := flag.String("config", "", "Host config.")
//	flag.Parse()
//
//	conf := types.Config{}
//	if err := json.Unmarshal([]byte(*configData), &conf); err != nil {
//		log.Fatal(err)
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))
//	h := sdk.NewHost(ctx, logger, conf, os.Stdout)
//	if err := h.RegisterDiscoverer(&MyDiscoverer{}); err != nil {
//		log.Fatal(err)
//	}
//
//	if err := h.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// The discoverer reports tests through the Emitter it is handed. Batching, the complete event and the
// end of session handling are done by the host.
package sdk
