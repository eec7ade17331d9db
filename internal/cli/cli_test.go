package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/chunkforge/internal/testutil"
)

func TestParseDefaults(t *testing.T) {
	opts, exit, err := Parse(nil, &testutil.SafeBuffer{})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, int32(0), opts.CenterX)
	assert.Equal(t, int32(0), opts.CenterZ)
	assert.Equal(t, 4, opts.Radius)
	assert.Equal(t, "full", opts.Target)
	assert.Equal(t, "text", opts.LogFormat)
	assert.Equal(t, "info", opts.LogLevel)
}

func TestParseAllFlags(t *testing.T) {
	opts, exit, err := Parse([]string{
		"--config", "world.hcl",
		"--center", "-3, 12",
		"--radius", "2",
		"--target", "surface",
		"--workers", "8",
		"--healthcheck-port", "8080",
		"--log-format", "json",
		"--log-level", "debug",
	}, &testutil.SafeBuffer{})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "world.hcl", opts.ConfigPath)
	assert.Equal(t, int32(-3), opts.CenterX)
	assert.Equal(t, int32(12), opts.CenterZ)
	assert.Equal(t, 2, opts.Radius)
	assert.Equal(t, "surface", opts.Target)
	assert.Equal(t, 8, opts.Workers)
	assert.Equal(t, 8080, opts.HealthcheckPort)
	assert.Equal(t, "json", opts.LogFormat)
	assert.Equal(t, "debug", opts.LogLevel)
}

func TestParseHelp(t *testing.T) {
	out := &testutil.SafeBuffer{}
	opts, exit, err := Parse([]string{"--help"}, out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, opts)
	assert.Contains(t, out.String(), "chunkforge")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"positional argument", []string{"extra"}},
		{"malformed center", []string{"--center", "12"}},
		{"non-numeric center", []string{"--center", "a,b"}},
		{"negative radius", []string{"--radius", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.args, &testutil.SafeBuffer{})
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}
