package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
)

// DefaultBatchSize is used if the criteria do not set a frequency for discovered test events.
const DefaultBatchSize = 50

// streamEmitter writes newline delimited events to the response. Tests are sent in batches, whatever
// is pending when the discovery ends becomes the last chunk of the complete event.
type streamEmitter struct {
	ctx       context.Context
	mu        sync.Mutex
	encoder   *json.Encoder
	flusher   http.Flusher
	batchSize int
	pending   []v1.TestCase
	total     int64
	completed bool
	// broken is the error of a timed flush, later calls return it.
	broken error
}

var _ Emitter = (*streamEmitter)(nil)

func newStreamEmitter(ctx context.Context, w http.ResponseWriter, batchSize int) *streamEmitter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	flusher, _ := w.(http.Flusher)
	return &streamEmitter{
		ctx:       ctx,
		encoder:   json.NewEncoder(w),
		flusher:   flusher,
		batchSize: batchSize,
	}
}

func (e *streamEmitter) Tests(tests ...v1.TestCase) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return err
	}

	e.pending = append(e.pending, tests...)
	e.total += int64(len(tests))
	for len(e.pending) >= e.batchSize {
		batch := e.pending[:e.batchSize:e.batchSize]
		e.pending = e.pending[e.batchSize:]
		if err := e.write(v1.DiscoveryEvent{Type: v1.EventTestsFound, Tests: batch}); err != nil {
			return err
		}
	}

	return nil
}

func (e *streamEmitter) Log(level, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return err
	}

	return e.write(v1.DiscoveryEvent{Type: v1.EventLog, Log: &v1.LogMessage{Level: level, Message: message}})
}

// complete sends the terminal event carrying the pending tests.
func (e *streamEmitter) complete(status v1.Status, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.completed = true
	complete := &v1.DiscoveryComplete{
		Status:     status,
		TotalTests: e.total,
		LastChunk:  e.pending,
	}
	if cause != nil {
		complete.Error = cause.Error()
	}
	e.pending = nil

	return e.write(v1.DiscoveryEvent{Type: v1.EventComplete, Complete: complete})
}

// flushEvery sends pending tests at least every interval until the returned stop function is called.
func (e *streamEmitter) flushEvery(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.flush()
			case <-done:
				return
			case <-e.ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

func (e *streamEmitter) flush() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed || len(e.pending) == 0 || e.usable() != nil {
		return
	}

	batch := e.pending
	e.pending = nil
	if err := e.write(v1.DiscoveryEvent{Type: v1.EventTestsFound, Tests: batch}); err != nil {
		e.broken = err
	}
}

func (e *streamEmitter) usable() error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	return e.broken
}

func (e *streamEmitter) write(event v1.DiscoveryEvent) error {
	if err := e.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write discovery event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
