package v1

import (
	"context"

	"ocm.software/open-component-model/bindings/go/testhost/manager/contracts"
)

// DiscoveryHostContract defines the calls the orchestrator makes against a test host during
// a single discovery session.
type DiscoveryHostContract interface {
	contracts.HostBase

	// InitializeDiscovery pushes additional extension paths to the host. It is sent at most once per
	// session and only when there are additional extensions.
	InitializeDiscovery(ctx context.Context, request *InitializeDiscoveryRequest) error
	// DiscoverTests dispatches the discovery request. The returned stream delivers the events
	// in the order the host emitted them and ends after the complete event.
	DiscoverTests(ctx context.Context, request *DiscoverTestsRequest) (EventStream, error)
	// EndSession tells the host that the session is over. No response is expected.
	EndSession(ctx context.Context, request *EndSessionRequest) error
}

// EventStream is a stream of discovery events. Next returns io.EOF once the host closed the stream.
type EventStream interface {
	Next() (*DiscoveryEvent, error)
	Close() error
}
