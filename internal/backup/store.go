// Package backup manages backup artifacts: listing, retention sweeps,
// single-file deletion and store snapshots.
package backup

import (
	"context"
	"io"
	"time"
)

// Object describes one stored backup artifact.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
	Path    string
}

// Store is a flat namespace of backup artifacts. Missing objects are reported
// with an error matching fs.ErrNotExist.
type Store interface {
	List(ctx context.Context) ([]Object, error)
	Stat(ctx context.Context, name string) (Object, error)
	Delete(ctx context.Context, name string) error
	Put(ctx context.Context, name string, r io.Reader) (Object, error)
	Location() string
}
