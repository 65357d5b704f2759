package attachment

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_WriteIsAtomic(t *testing.T) {
	base := t.TempDir()
	c, err := NewCache(base)
	require.NoError(t, err)

	_, _, err = c.Write("docs", "a.txt", func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("source vanished")
	})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(base, "docs"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, _, err = c.Write("docs", "empty.txt", func(io.Writer) error { return nil })
	assert.ErrorContains(t, err, "empty file")

	path, size, err := c.Write("docs", "b.txt", func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "docs", "b.txt"), path)
	assert.Equal(t, int64(5), size)
	assert.True(t, c.Contains(path))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, int64(5), stats.TotalSize)
	assert.Equal(t, 1, stats.ByCategory["docs"])

	require.NoError(t, c.Remove(path))
	assert.NoFileExists(t, path)
	require.NoError(t, c.Remove(path))
}
