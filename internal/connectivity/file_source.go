package connectivity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileSource reads reachability from a status file maintained by the host
// platform. The file holds "online"/"offline" (or 1/0, true/false); a
// missing file means offline. The parent directory is watched so atomic
// replace-by-rename is picked up.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string { return "file:" + s.Path }

// Run reports the current state, then every change, until ctx is done.
func (s *FileSource) Run(ctx context.Context, report func(bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	report(ReadStatusFile(s.Path))

	target := filepath.Clean(s.Path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				report(ReadStatusFile(s.Path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", s.Path, err)
		}
	}
}

// ReadStatusFile parses the status file. Unreadable or unknown content is
// treated as offline.
func ReadStatusFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "online", "1", "true", "up", "reachable":
		return true
	}
	return false
}

// WriteStatusFile atomically writes the status file, as a host platform
// would.
func WriteStatusFile(path string, reachable bool) error {
	value := "offline"
	if reachable {
		value = "online"
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
