package extensions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"ocm.software/open-component-model/bindings/go/testhost/internal/metrics"
)

// ErrNoExtensionsFound is returned when a location does not contribute any extension.
var ErrNoExtensionsFound = errors.New("no extensions found")

// Loader finds extensions of a kind. Besides the given paths a loader may include extensions from
// locations it knows about, those are marked as well known.
type Loader interface {
	Scan(ctx context.Context, kind Kind, paths []string) ([]*Descriptor, error)
}

type RegistryOptions struct {
	AdditionalExtensions []string
	LoadOnlyWellKnown    bool
	Metrics              *metrics.Metrics
}

type RegistryOptionFn func(*RegistryOptions)

// WithAdditionalExtensions adds extension locations that are scanned next to the well known ones.
func WithAdditionalExtensions(paths ...string) RegistryOptionFn {
	return func(o *RegistryOptions) {
		o.AdditionalExtensions = append(o.AdditionalExtensions, paths...)
	}
}

// WithLoadOnlyWellKnown hides every extension that is not well known.
func WithLoadOnlyWellKnown(wellKnownOnly bool) RegistryOptionFn {
	return func(o *RegistryOptions) {
		o.LoadOnlyWellKnown = wellKnownOnly
	}
}

// WithMetrics counts scans per kind.
func WithMetrics(m *metrics.Metrics) RegistryOptionFn {
	return func(o *RegistryOptions) {
		o.Metrics = m
	}
}

// Registry caches the extensions per kind.
type Registry struct {
	loader  Loader
	metrics *metrics.Metrics

	mu                   sync.Mutex
	entries              map[Kind]*entry
	additionalExtensions []string
	loadOnlyWellKnown    bool
}

// entry gates the scan of a single kind.
type entry struct {
	mu          sync.Mutex
	loaded      bool
	descriptors []*Descriptor
}

// NewRegistry creates an empty registry. Nothing is scanned before the first lookup.
func NewRegistry(loader Loader, opts ...RegistryOptionFn) *Registry {
	o := &RegistryOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return &Registry{
		loader:               loader,
		metrics:              o.Metrics,
		entries:              make(map[Kind]*entry),
		additionalExtensions: dedupe(nil, o.AdditionalExtensions),
		loadOnlyWellKnown:    o.LoadOnlyWellKnown,
	}
}

// GetOrCreate returns the extensions of kind. The first call for a kind scans for extensions, concurrent
// callers wait for that scan and share its result. A failed scan is not cached.
func (r *Registry) GetOrCreate(ctx context.Context, kind Kind) ([]*Descriptor, error) {
	r.mu.Lock()
	e, ok := r.entries[kind]
	if !ok {
		e = &entry{}
		r.entries[kind] = e
	}
	paths := slices.Clone(r.additionalExtensions)
	wellKnownOnly := r.loadOnlyWellKnown
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return slices.Clone(e.descriptors), nil
	}

	r.metrics.ExtensionScan(string(kind))
	slog.DebugContext(ctx, "scanning for extensions", "kind", kind, "additional", paths)

	descriptors, err := r.loader.Scan(ctx, kind, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for %s extensions: %w", kind, err)
	}

	e.descriptors = filter(descriptors, func(d *Descriptor) bool {
		return d != nil && (d.WellKnown || !wellKnownOnly)
	})
	e.loaded = true

	slog.DebugContext(ctx, "extensions cached", "kind", kind, "count", len(e.descriptors))

	return slices.Clone(e.descriptors), nil
}

// LoadAndInitializeAll creates the implementation of every cached extension of kind. Extensions that
// fail to load are removed from the cache. Their errors are returned for well known extensions, and
// for all others only if includeNonWellKnown is set. Afterwards every cached extension of kind is created.
func (r *Registry) LoadAndInitializeAll(ctx context.Context, kind Kind, includeNonWellKnown bool) error {
	descriptors, err := r.GetOrCreate(ctx, kind)
	if err != nil {
		return err
	}

	// every extension is tried, so the goroutines record their failure instead of returning it
	// and Wait cannot fail
	errs := make([]error, len(descriptors))
	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for i, d := range descriptors {
		eg.Go(func() error {
			_, errs[i] = d.Implementation(ctx)
			return nil
		})
	}
	_ = eg.Wait()

	failed := make(map[*Descriptor]error)
	for i, err := range errs {
		if err != nil {
			failed[descriptors[i]] = err
		}
	}
	if len(failed) == 0 {
		return nil
	}

	r.evict(kind, failed)

	var joined error
	for _, d := range descriptors {
		err, ok := failed[d]
		if !ok {
			continue
		}
		if d.WellKnown || includeNonWellKnown {
			joined = errors.Join(joined, err)
			continue
		}
		slog.WarnContext(ctx, "excluding extension that could not be loaded", "extension", d.String(), "path", d.Path, "error", err.Error())
	}

	return joined
}

// ForExtension scans a single extension location without touching the cache and returns the
// extensions of kind it contributes.
func (r *Registry) ForExtension(ctx context.Context, kind Kind, path string) ([]*Descriptor, error) {
	descriptors, err := r.loader.Scan(ctx, kind, []string{path})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for %s extensions: %w", path, kind, err)
	}

	descriptors = filter(descriptors, func(d *Descriptor) bool {
		return d != nil && !d.WellKnown
	})
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("%w: %s does not provide %s extensions", ErrNoExtensionsFound, path, kind)
	}

	return descriptors, nil
}

// Reset drops the cached extensions of kind. The next lookup scans again.
func (r *Registry) Reset(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, kind)
}

// ResetAll drops all cached extensions.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[Kind]*entry)
}

// AdditionalExtensions returns the extension locations configured next to the well known ones.
func (r *Registry) AdditionalExtensions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.additionalExtensions)
}

func (r *Registry) LoadOnlyWellKnown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadOnlyWellKnown
}

// UpdateExtensions adds extension locations and sets the well known flag. If that changes the
// configuration, every cached kind is dropped.
func (r *Registry) UpdateExtensions(paths []string, loadOnlyWellKnown bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := dedupe(r.additionalExtensions, paths)
	if slices.Equal(merged, r.additionalExtensions) && loadOnlyWellKnown == r.loadOnlyWellKnown {
		return
	}

	r.additionalExtensions = merged
	r.loadOnlyWellKnown = loadOnlyWellKnown
	r.entries = make(map[Kind]*entry)
}

func (r *Registry) evict(kind Kind, failed map[*Descriptor]error) {
	r.mu.Lock()
	e, ok := r.entries[kind]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.descriptors = filter(e.descriptors, func(d *Descriptor) bool {
		_, bad := failed[d]
		return !bad
	})
}

func filter(descriptors []*Descriptor, keep func(*Descriptor) bool) []*Descriptor {
	result := make([]*Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if keep(d) {
			result = append(result, d)
		}
	}
	return result
}

func dedupe(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	result := make([]string, 0, len(base)+len(add))
	for _, p := range slices.Concat(base, add) {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
