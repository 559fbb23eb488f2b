package discovery

import (
	"context"
	"sync"

	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
)

// EventSink receives the results of a discovery session. Calls for one session are made from a
// single goroutine in the order the host emitted them. HandleDiscoveryComplete is called exactly once
// and always last.
type EventSink interface {
	HandleDiscoveredTests(ctx context.Context, tests []v1.TestCase)
	HandleLogMessage(ctx context.Context, message v1.LogMessage)
	HandleDiscoveryComplete(ctx context.Context, complete v1.DiscoveryComplete)
}

// Collector is an EventSink that keeps everything it receives.
type Collector struct {
	mu       sync.Mutex
	tests    []v1.TestCase
	logs     []v1.LogMessage
	complete *v1.DiscoveryComplete
	done     chan struct{}
}

var _ EventSink = (*Collector)(nil)

func NewCollector() *Collector {
	return &Collector{done: make(chan struct{})}
}

func (c *Collector) HandleDiscoveredTests(_ context.Context, tests []v1.TestCase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tests = append(c.tests, tests...)
}

func (c *Collector) HandleLogMessage(_ context.Context, message v1.LogMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, message)
}

func (c *Collector) HandleDiscoveryComplete(_ context.Context, complete v1.DiscoveryComplete) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tests = append(c.tests, complete.LastChunk...)
	if c.complete == nil {
		c.complete = &complete
		close(c.done)
	}
}

// Done is closed once the complete event was received.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Tests returns all tests received so far, including the last chunk of the complete event.
func (c *Collector) Tests() []v1.TestCase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]v1.TestCase(nil), c.tests...)
}

func (c *Collector) Logs() []v1.LogMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]v1.LogMessage(nil), c.logs...)
}

// Complete returns the terminal event or nil if it was not received yet.
func (c *Collector) Complete() *v1.DiscoveryComplete {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}
