// internal/gitclone/clone_test.go
package gitclone

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestCloner_CleanupRemovesReadOnlyTrees(t *testing.T) {
	base := t.TempDir()
	cloner := NewCloner(base, time.Minute, 0, testLogger())

	dir := filepath.Join(base, "owner_repo_1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0o755))
	object := filepath.Join(dir, ".git", "objects", "pack")
	require.NoError(t, os.WriteFile(object, []byte("data"), 0o400))

	cloner.Cleanup(dir)

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	size, err := dirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(150), size)
}

func TestNewCloner_DefaultLimit(t *testing.T) {
	cloner := NewCloner(t.TempDir(), time.Minute, 0, testLogger())
	assert.Equal(t, int64(DefaultMaxBytes), cloner.maxBytes)
}
