package contracts

import "context"

// EmptyBaseHost can be used by in-process implementations to skip having to implement
// the Ping method which will not be called. Ping is only required for external hosts
// in which case it is used as a health check to see that a host process ( that uses
// a web server implementation ) is up and running.
type EmptyBaseHost struct{}

func (*EmptyBaseHost) Ping(_ context.Context) error {
	return nil
}

// HostBase is a capability shared by all test hosts.
// It contains the Ping method which is used as a Health Check.
type HostBase interface {
	// Ping makes sure the host is responsive.
	Ping(ctx context.Context) error
}
