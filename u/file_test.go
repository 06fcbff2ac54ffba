package u

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	assert.False(t, PathExists(path))
	assert.False(t, FileExists(path))
	assert.Equal(t, int64(-1), FileSize(path))

	err := os.WriteFile(path, []byte("hello"), 0644)
	assert.NoError(t, err)
	assert.True(t, PathExists(path))
	assert.True(t, FileExists(path))
	assert.False(t, DirExists(path))
	assert.Equal(t, int64(5), FileSize(path))

	assert.True(t, PathExists(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(dir))
	assert.False(t, DirExists(filepath.Join(dir, "missing")))
}
