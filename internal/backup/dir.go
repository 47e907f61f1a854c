package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempPrefix = ".tmp-"

// DirStore keeps backups as files in one directory.
type DirStore struct {
	Root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &DirStore{Root: root}, nil
}

func (s *DirStore) Location() string { return s.Root }

func (s *DirStore) List(ctx context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Object
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, s.object(info))
	}
	return out, nil
}

func (s *DirStore) Stat(_ context.Context, name string) (Object, error) {
	info, err := os.Stat(filepath.Join(s.Root, name))
	if err != nil {
		return Object{}, err
	}
	if info.IsDir() {
		return Object{}, fs.ErrNotExist
	}
	return s.object(info), nil
}

func (s *DirStore) Delete(_ context.Context, name string) error {
	return os.Remove(filepath.Join(s.Root, name))
}

// Put writes to a temp file in the same directory and renames it into place.
func (s *DirStore) Put(ctx context.Context, name string, r io.Reader) (Object, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return Object{}, err
	}
	tmp, err := os.CreateTemp(s.Root, tempPrefix+"*")
	if err != nil {
		return Object{}, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("write backup %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Object{}, err
	}
	if err := tmp.Close(); err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := os.Rename(tmpName, filepath.Join(s.Root, name)); err != nil {
		return Object{}, err
	}
	return s.Stat(ctx, name)
}

func (s *DirStore) object(info fs.FileInfo) Object {
	return Object{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Path:    filepath.Join(s.Root, info.Name()),
	}
}
