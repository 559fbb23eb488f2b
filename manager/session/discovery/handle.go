package discovery

import (
	"context"
	"sync"

	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
)

// Handle tracks a running discovery. It completes once the terminal event was delivered to the sink.
type Handle struct {
	done     chan struct{}
	once     sync.Once
	complete v1.DiscoveryComplete
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) finish(complete v1.DiscoveryComplete) {
	h.once.Do(func() {
		h.complete = complete
		close(h.done)
	})
}

// Done is closed when the discovery finished, with or without success.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the discovery finished and returns the terminal event that was delivered.
func (h *Handle) Wait(ctx context.Context) (v1.DiscoveryComplete, error) {
	select {
	case <-h.done:
		return h.complete, nil
	case <-ctx.Done():
		return v1.DiscoveryComplete{}, ctx.Err()
	}
}
