package enum

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	options := []string{"table", "json", "yaml"}
	Var(fs, "output", options, "output format")

	value, err := Get(fs, "output")
	require.NoError(t, err)
	assert.Equal(t, "table", value)

	require.NoError(t, fs.Parse([]string{"--output", "yaml"}))
	value, err = Get(fs, "output")
	require.NoError(t, err)
	assert.Equal(t, "yaml", value)
	assert.Equal(t, []string{"table", "json", "yaml"}, options, "options are not modified")

	require.Error(t, fs.Set("output", "xml"))

	_, err = Get(fs, "missing")
	require.Error(t, err)

	fs.String("plain", "", "")
	_, err = Get(fs, "plain")
	require.Error(t, err)

	assert.Panics(t, func() { New() })
}
