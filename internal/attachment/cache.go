package attachment

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Cache is the private directory attachment files are copied into. Each
// media category gets its own subdirectory, created on first use.
type Cache struct {
	baseDir string
}

// NewCache creates a Cache rooted at baseDir.
func NewCache(baseDir string) (*Cache, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{baseDir: baseDir}, nil
}

// Dir returns the directory for category, creating it if needed.
func (c *Cache) Dir(category string) (string, error) {
	dir := filepath.Join(c.baseDir, category)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", category, err)
	}
	return dir, nil
}

// Write materializes a file named name under category. fn streams the
// content into a temporary file that is renamed into place only when fn
// and the close succeed; on failure nothing is left behind. The size is
// taken from the written file.
func (c *Cache) Write(category, name string, fn func(w io.Writer) error) (string, int64, error) {
	dir, err := c.Dir(category)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(dir, ".ingest-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp); err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to flush file: %w", err)
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		return "", 0, fmt.Errorf("invalid file: empty file (0 bytes)")
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("failed to move file into cache: %w", err)
	}
	return path, info.Size(), nil
}

// Remove deletes a cached file. Paths outside the cache are refused.
func (c *Cache) Remove(path string) error {
	if !c.Contains(path) {
		return fmt.Errorf("refusing to remove %s: outside the attachment cache", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Contains reports whether path lies inside the cache.
func (c *Cache) Contains(path string) bool {
	rel, err := filepath.Rel(c.baseDir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Stats summarizes cache usage.
type Stats struct {
	TotalFiles int            `json:"total_files"`
	TotalSize  int64          `json:"total_size"`
	ByCategory map[string]int `json:"by_category"`
}

// Stats walks the cache.
func (c *Cache) Stats() (*Stats, error) {
	stats := &Stats{ByCategory: make(map[string]int)}
	err := c.walk(func(category, path string, info fs.FileInfo) error {
		stats.TotalFiles++
		stats.TotalSize += info.Size()
		stats.ByCategory[category]++
		return nil
	})
	return stats, err
}

// walk visits every materialized file. Temporary files are skipped.
func (c *Cache) walk(fn func(category, path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(c.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".ingest-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(c.baseDir, path)
		category, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		return fn(category, path, info)
	})
}
