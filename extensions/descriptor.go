package extensions

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Factory creates the implementation of an extension.
type Factory func(ctx context.Context, d *Descriptor) (any, error)

// Descriptor describes a single extension. The implementation is created lazily.
// Descriptors are shared by everyone using the registry and must not be copied.
type Descriptor struct {
	Name string
	Kind Kind
	// Path is the location the extension was found at.
	Path string
	// Version is optional.
	Version *semver.Version
	// WellKnown is set for extensions that ship with the platform.
	WellKnown bool
	Metadata  Metadata
	Factory   Factory

	mu             sync.Mutex
	implementation any
}

// IsCreated reports whether the implementation was created already.
func (d *Descriptor) IsCreated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.implementation != nil
}

// Implementation returns the implementation of the extension and creates it on first use.
// A failed creation is not cached.
func (d *Descriptor) Implementation(ctx context.Context) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.implementation != nil {
		return d.implementation, nil
	}
	if d.Factory == nil {
		return nil, fmt.Errorf("extension %s has no implementation", d)
	}

	impl, err := d.Factory(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to create extension %s: %w", d, err)
	}
	if impl == nil {
		return nil, fmt.Errorf("extension %s returned no implementation", d)
	}
	d.implementation = impl

	return impl, nil
}

func (d *Descriptor) String() string {
	if d.Version != nil {
		return fmt.Sprintf("%s/%s@%s", d.Kind, d.Name, d.Version.Original())
	}
	return fmt.Sprintf("%s/%s", d.Kind, d.Name)
}
