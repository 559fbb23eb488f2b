// Package discovery implements the discovery session on top of a [connection.Manager].
//
// A session moves through Created -> Initialized -> SessionActive -> SessionEnded and is used for
// exactly one discovery run:
//
//	session := discovery.NewManager(provider.NewProcessProvider("/path/to/testhost"))
//	defer session.EndSession(ctx)
//	if err := session.Initialize(ctx, extensionPaths, false); err != nil {
//		return err
//	}
//	handle, err := session.RunDiscovery(ctx, criteria, sink)
//	if err != nil {
//		return err
//	}
//	<-handle.Done()
//
// RunDiscovery returns as soon as the request is dispatched. Discovered tests and the terminal
// complete event are delivered to the EventSink from a receiver goroutine bound to the host
// connection. The session ends itself once the receiver is done.
package discovery
