package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-boundary/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Primes", cfg.Collection.Name)
	assert.Equal(t, []int32{5, 6, 7}, cfg.Collection.Values)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
memory:
  backend: linear
  pages: 2
log:
  level: debug
collection:
  name: Evens
  values: [2, 4]
`))
	require.NoError(t, err)
	assert.Equal(t, BackendLinear, cfg.Memory.Backend)
	assert.Equal(t, uint32(2), cfg.Memory.Pages)
	assert.Equal(t, uint32(16), cfg.Memory.MaxPages, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, FormatConsole, cfg.Log.Format)
	assert.Equal(t, []int32{2, 4}, cfg.Collection.Values)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "memory:\n  backnd: linear\n"},
		{"bad backend", "memory:\n  backend: mmap\n"},
		{"zero pages", "memory:\n  pages: 0\n"},
		{"max below pages", "memory:\n  pages: 4\n  max_pages: 2\n"},
		{"too many pages", "memory:\n  max_pages: 70000\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"value overflow", "collection:\n  values: [3000000000]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, errors.PhaseConfig, err.(*errors.Error).Phase)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  strict: false\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Memory.Strict)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	cfg, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{FormatConsole, FormatJSON} {
		cfg := Default()
		cfg.Log.Format = format
		l, err := cfg.NewLogger()
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}
