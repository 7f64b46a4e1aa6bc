package ingest

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"upright/internal/imagefmt"
)

// Kind says how a path was discovered.
type Kind int

const (
	// KindSweep comes from walking the tree.
	KindSweep Kind = iota
	// KindCreate is a create event, or a file found inside a directory that
	// was created while watching.
	KindCreate
	// KindWrite is a modify event.
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindSweep:
		return "sweep"
	case KindCreate:
		return "create"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Discovery is a supported image path observed under the input root.
type Discovery struct {
	Path string
	// Rel is Path relative to the input root.
	Rel  string
	Kind Kind
	At   time.Time
}

// Fresh reports whether the discovery signals a new file lifecycle.
func (d Discovery) Fresh() bool {
	return d.Kind == KindCreate
}

// Sink receives discoveries. Implementations must not block.
type Sink func(Discovery)

// Sweep walks root recursively and emits every supported regular file. It
// returns the number of discoveries emitted. Unreadable subdirectories are
// skipped; a missing root is an error.
func Sweep(ctx context.Context, root string, kind Kind, sink Sink) (int, error) {
	emitted := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !imagefmt.IsSupported(path) {
			return nil
		}
		discovery, ok := newDiscovery(root, path, kind)
		if !ok {
			return nil
		}
		sink(discovery)
		emitted++
		return nil
	})
	return emitted, err
}

func newDiscovery(root, path string, kind Kind) (Discovery, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Discovery{}, false
	}
	return Discovery{Path: path, Rel: rel, Kind: kind, At: time.Now()}, true
}
