package fileutil

import (
	"os"

	"golang.org/x/sync/singleflight"
)

// DirMaker creates directories, collapsing concurrent requests for the same
// path into one MkdirAll call.
type DirMaker struct {
	group singleflight.Group
}

// Ensure creates dir and its parents when missing.
func (m *DirMaker) Ensure(dir string) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}
	_, err, _ := m.group.Do(dir, func() (any, error) {
		return nil, os.MkdirAll(dir, 0o755)
	})
	return err
}
