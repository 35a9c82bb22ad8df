package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"Warn", LevelWarn, true},
		{"ERROR", LevelError, true},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigure_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grainweb.log")

	require.NoError(t, Configure("WARN", "json", path))
	t.Cleanup(func() { _ = Configure("INFO", "text", "stdout") })

	Info("dropped %d", 1)
	Warn("kept %s", "warning")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept warning")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"), "json encoder expected")
}

func TestConfigure_BadPath(t *testing.T) {
	err := Configure("INFO", "text", filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}
