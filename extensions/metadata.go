package extensions

import (
	"context"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
)

// Kind identifies the type of extension.
type Kind string

const (
	KindDiscoverer Kind = "discoverer"
	KindExecutor   Kind = "executor"
)

// Metadata is declared by an extension. Both fields are optional.
type Metadata struct {
	// FileExtensions are the file extensions the extension handles. Never an empty slice, nil if none.
	FileExtensions []string `json:"fileExtensions,omitempty"`
	// DefaultExecutorURI is the absolute URI of the executor for tests found by this extension.
	DefaultExecutorURI *url.URL `json:"-"`
}

// NewMetadata creates metadata from declared values. Missing or malformed values result in absent
// fields, it never fails. An executor URI without a path is normalized to its root path,
// "executor://helloworld" becomes "executor://helloworld/".
func NewMetadata(ctx context.Context, fileExtensions []string, defaultExecutorURI string) Metadata {
	return Metadata{
		FileExtensions:     normalizeFileExtensions(fileExtensions),
		DefaultExecutorURI: parseExecutorURI(ctx, defaultExecutorURI),
	}
}

// Supports reports whether the file has one of the declared file extensions.
// Metadata without file extensions supports nothing.
func (m Metadata) Supports(file string) bool {
	ext := strings.TrimPrefix(filepath.Ext(file), ".")
	if ext == "" {
		return false
	}
	for _, candidate := range m.FileExtensions {
		if strings.EqualFold(strings.TrimPrefix(candidate, "."), ext) {
			return true
		}
	}
	return false
}

// ExecutorURI returns the default executor uri as string or "" if none is set.
func (m Metadata) ExecutorURI() string {
	if m.DefaultExecutorURI == nil {
		return ""
	}
	return m.DefaultExecutorURI.String()
}

func normalizeFileExtensions(fileExtensions []string) []string {
	var result []string
	for _, ext := range fileExtensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		result = append(result, ext)
	}
	return result
}

func parseExecutorURI(ctx context.Context, raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		slog.WarnContext(ctx, "ignoring malformed default executor uri", "uri", raw, "error", err.Error())
		return nil
	}
	if !u.IsAbs() {
		slog.WarnContext(ctx, "ignoring relative default executor uri", "uri", raw)
		return nil
	}
	if u.Opaque == "" && u.Path == "" {
		u.Path = "/"
	}

	return u
}
