package xlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDebugWritesWhenEnabled exercises the only Debug call this test
// binary makes, since open() is guarded by a package-level sync.Once
// and SetDir/the env var must be settled before the first call.
func TestDebugWritesWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Setenv(EnvVar, "1"))
	SetDir(dir)

	Debug("hello %s", "world")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, filepath.Base(entries[0].Name()), "debug-")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
}
