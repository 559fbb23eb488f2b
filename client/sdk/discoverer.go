package sdk

import (
	"context"

	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
)

// Discoverer finds tests in the sources of the criteria.
type Discoverer interface {
	// Discover reports every found test to emit. Returning an error fails the discovery, tests that were
	// emitted before are still delivered.
	Discover(ctx context.Context, criteria v1.DiscoveryCriteria, emit Emitter) error
}

// ExtensionInitializer is implemented by discoverers that can load additional extensions.
type ExtensionInitializer interface {
	InitializeExtensions(ctx context.Context, paths []string, loadOnlyWellKnown bool) error
}

// Emitter streams results back to the orchestrator.
type Emitter interface {
	Tests(tests ...v1.TestCase) error
	Log(level, message string) error
}

// DiscovererFunc adapts a function to a Discoverer.
type DiscovererFunc func(ctx context.Context, criteria v1.DiscoveryCriteria, emit Emitter) error

func (f DiscovererFunc) Discover(ctx context.Context, criteria v1.DiscoveryCriteria, emit Emitter) error {
	return f(ctx, criteria, emit)
}
