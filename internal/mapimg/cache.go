// Package mapimg renders and caches static map images for camera
// locations so repeated notifications never re-download the same tile.
package mapimg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("map image not cached")

// Cache is a write-once-read-many filesystem cache. Entries are addressed
// purely by Key(), so two writers racing on the same key produce the same
// bytes and the last rename wins harmlessly. Nothing is ever evicted; the
// key space grows with distinct cameras, which is small and slow.
type Cache struct {
	dir string
	log logx.Logger
}

func NewCache(dir string, log logx.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("mapimg: cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mapimg: create cache dir: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{dir: dir, log: log}, nil
}

// Get returns the cached bytes for the camera/params pair. It only ever
// touches the local filesystem.
func (c *Cache) Get(cam camera.Camera, p Params) ([]byte, error) {
	b, err := os.ReadFile(c.path(cam, p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Put stores freshly downloaded bytes. Callers treat failures as
// best-effort: the image already in hand is still delivered.
func (c *Cache) Put(cam camera.Camera, p Params, b []byte) error {
	path := c.path(cam, p)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	c.log.Debug("map image cached", logx.String("file", filepath.Base(path)), logx.Int("bytes", len(b)))
	return nil
}

func (c *Cache) path(cam camera.Camera, p Params) string {
	return filepath.Join(c.dir, Key(cam, p))
}
