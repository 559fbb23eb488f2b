package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetadata(t *testing.T) {
	t.Run("absent values", func(t *testing.T) {
		for _, exts := range [][]string{nil, {}, {" "}} {
			for _, uri := range []string{"", " ", "\t\n"} {
				md := NewMetadata(t.Context(), exts, uri)
				assert.Nil(t, md.FileExtensions)
				assert.Nil(t, md.DefaultExecutorURI)
				assert.Empty(t, md.ExecutorURI())
			}
		}
	})

	t.Run("normalizes the executor uri", func(t *testing.T) {
		md := NewMetadata(t.Context(), []string{"csv", "dll"}, "executor://helloworld")
		assert.Equal(t, []string{"csv", "dll"}, md.FileExtensions)
		require.NotNil(t, md.DefaultExecutorURI)
		assert.Equal(t, "executor://helloworld/", md.DefaultExecutorURI.String())
	})

	t.Run("keeps an existing path", func(t *testing.T) {
		md := NewMetadata(t.Context(), nil, "executor://go/test")
		assert.Equal(t, "executor://go/test", md.ExecutorURI())
	})

	t.Run("malformed uris are dropped", func(t *testing.T) {
		assert.Nil(t, NewMetadata(t.Context(), nil, "relative/path").DefaultExecutorURI)
		assert.Nil(t, NewMetadata(t.Context(), nil, "://broken").DefaultExecutorURI)
	})
}

func TestMetadataSupports(t *testing.T) {
	md := NewMetadata(t.Context(), []string{".go", "CSV"}, "")

	assert.True(t, md.Supports("pkg/foo_test.go"))
	assert.True(t, md.Supports("data.csv"))
	assert.False(t, md.Supports("Makefile"))
	assert.False(t, md.Supports("main.rs"))
	assert.False(t, Metadata{}.Supports("foo.go"))
}
