// Package filesystem finds extensions on disk.
//
// Every extension is a directory holding an extension.yaml manifest:
//
//	name: gotest
//	kind: discoverer
//	version: 1.2.0
//	fileExtensions: [go]
//	defaultExecutorUri: executor://gotest
//	executable: ./gotest-discoverer
//
// Relative executables are resolved against the directory of the manifest.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"

	"ocm.software/open-component-model/bindings/go/testhost/extensions"
)

// ManifestFileName is the name of the file describing an extension.
const ManifestFileName = "extension.yaml"

// Manifest declares an extension.
type Manifest struct {
	Name               string   `json:"name"`
	Kind               string   `json:"kind"`
	Version            string   `json:"version,omitempty"`
	FileExtensions     []string `json:"fileExtensions,omitempty"`
	DefaultExecutorURI string   `json:"defaultExecutorUri,omitempty"`
	Executable         string   `json:"executable"`
}

// Loader scans a well known directory and additional locations for extension manifests.
type Loader struct {
	// WellKnownDirectory holds the extensions shipped with the platform. It may be empty or missing.
	WellKnownDirectory string
}

var _ extensions.Loader = (*Loader)(nil)

func NewLoader(wellKnownDirectory string) *Loader {
	return &Loader{WellKnownDirectory: wellKnownDirectory}
}

// Scan returns the extensions of kind found in the well known directory and in paths. Paths may point
// to directories or to manifest files. Manifests that cannot be read or that lack an executable are
// skipped. If an extension name is found more than once, the highest version wins.
func (l *Loader) Scan(ctx context.Context, kind extensions.Kind, paths []string) ([]*extensions.Descriptor, error) {
	var found []*extensions.Descriptor

	if l.WellKnownDirectory != "" {
		descriptors, err := l.scanLocation(ctx, kind, l.WellKnownDirectory, true)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to scan well known extensions: %w", err)
		}
		found = append(found, descriptors...)
	}

	for _, path := range paths {
		descriptors, err := l.scanLocation(ctx, kind, path, false)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.WarnContext(ctx, "extension location does not exist", "path", path)
				continue
			}
			return nil, fmt.Errorf("failed to scan extension location %s: %w", path, err)
		}
		found = append(found, descriptors...)
	}

	return highestVersions(found), nil
}

func (l *Loader) scanLocation(ctx context.Context, kind extensions.Kind, location string, wellKnown bool) ([]*extensions.Descriptor, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		d, err := loadManifest(ctx, location, wellKnown)
		if err != nil {
			slog.WarnContext(ctx, "skipping invalid extension", "manifest", location, "error", err.Error())
			return nil, nil
		}
		if d.Kind != kind {
			return nil, nil
		}
		return []*extensions.Descriptor{d}, nil
	}

	var descriptors []*extensions.Descriptor
	if err := filepath.Walk(location, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || info.Name() != ManifestFileName {
			return nil
		}

		d, err := loadManifest(ctx, path, wellKnown)
		if err != nil {
			// a broken extension must not prevent the others from loading
			slog.WarnContext(ctx, "skipping invalid extension", "manifest", path, "error", err.Error())
			return nil
		}
		if d.Kind != kind {
			return nil
		}

		slog.DebugContext(ctx, "discovered extension", "name", d.Name, "kind", d.Kind, "path", d.Path, "wellKnown", wellKnown)
		descriptors = append(descriptors, d)

		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to discover extensions: %w", err)
	}

	return descriptors, nil
}

func loadManifest(ctx context.Context, path string, wellKnown bool) (*extensions.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest := &Manifest{}
	if err := yaml.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if strings.TrimSpace(manifest.Name) == "" {
		return nil, errors.New("manifest has no name")
	}
	if strings.TrimSpace(manifest.Executable) == "" {
		return nil, fmt.Errorf("extension %s declares no executable", manifest.Name)
	}

	kind := extensions.Kind(manifest.Kind)
	if kind == "" {
		kind = extensions.KindDiscoverer
	}

	var version *semver.Version
	if manifest.Version != "" {
		if version, err = semver.NewVersion(manifest.Version); err != nil {
			slog.WarnContext(ctx, "ignoring invalid extension version", "name", manifest.Name, "version", manifest.Version, "error", err.Error())
			version = nil
		}
	}

	dir := filepath.Dir(path)
	executable := manifest.Executable
	if !filepath.IsAbs(executable) {
		executable = filepath.Join(dir, executable)
	}

	return &extensions.Descriptor{
		Name:      manifest.Name,
		Kind:      kind,
		Path:      dir,
		Version:   version,
		WellKnown: wellKnown,
		Metadata:  extensions.NewMetadata(ctx, manifest.FileExtensions, manifest.DefaultExecutorURI),
		Factory:   newExternalDiscoverer(executable),
	}, nil
}

// highestVersions keeps one descriptor per name. Versioned descriptors win over unversioned ones,
// on a tie the one found first is kept.
func highestVersions(descriptors []*extensions.Descriptor) []*extensions.Descriptor {
	byName := make(map[string]int, len(descriptors))
	var result []*extensions.Descriptor

	for _, d := range descriptors {
		idx, ok := byName[d.Name]
		if !ok {
			byName[d.Name] = len(result)
			result = append(result, d)
			continue
		}
		if newer(d.Version, result[idx].Version) {
			result[idx] = d
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

func newer(candidate, current *semver.Version) bool {
	switch {
	case candidate == nil:
		return false
	case current == nil:
		return true
	default:
		return candidate.GreaterThan(current)
	}
}
