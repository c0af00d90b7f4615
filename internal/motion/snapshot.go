package motion

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
)

// Handle identifies a stored snapshot.
type Handle string

// SnapshotStore persists the image of the last motion event.
type SnapshotStore interface {
	Write(img image.Image) (Handle, error)
	PathFor(h Handle) string
}

// FileStore keeps a single JPEG snapshot in a directory. Writes go to a
// temporary file first and are renamed into place, so a reader never sees
// a partial image.
type FileStore struct {
	dir  string
	name string
}

// NewFileStore creates a store writing last_motion.jpg under dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, name: "last_motion.jpg"}
}

func (s *FileStore) Write(img image.Image) (Handle, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: 85}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, s.name)); err != nil {
		return "", fmt.Errorf("publish snapshot: %w", err)
	}
	return Handle(s.name), nil
}

func (s *FileStore) PathFor(h Handle) string {
	return filepath.Join(s.dir, filepath.Base(string(h)))
}
