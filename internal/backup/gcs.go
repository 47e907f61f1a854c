package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore keeps backups as objects under a prefix in a bucket.
type GCSStore struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

// NewGCSClient builds a storage client, using the credentials file when set
// and application default credentials otherwise.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return client, nil
}

func (s *GCSStore) Location() string {
	return "gs://" + path.Join(s.Bucket, s.Prefix)
}

func (s *GCSStore) key(name string) string {
	return path.Join(s.Prefix, name)
}

func (s *GCSStore) List(ctx context.Context) ([]Object, error) {
	prefix := s.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	it := s.Client.Bucket(s.Bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.Bucket, prefix, err)
		}
		// synthetic directory entries
		if attrs.Name == "" {
			continue
		}
		out = append(out, s.object(attrs))
	}
	return out, nil
}

func (s *GCSStore) Stat(ctx context.Context, name string) (Object, error) {
	attrs, err := s.Client.Bucket(s.Bucket).Object(s.key(name)).Attrs(ctx)
	if err != nil {
		return Object{}, mapGCSErr(err)
	}
	return s.object(attrs), nil
}

func (s *GCSStore) Delete(ctx context.Context, name string) error {
	return mapGCSErr(s.Client.Bucket(s.Bucket).Object(s.key(name)).Delete(ctx))
}

// Put uploads the object. GCS makes the object visible only once the writer closes.
func (s *GCSStore) Put(ctx context.Context, name string, r io.Reader) (Object, error) {
	w := s.Client.Bucket(s.Bucket).Object(s.key(name)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return Object{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("close GCS writer for %s: %w", name, err)
	}
	return s.object(w.Attrs()), nil
}

func (s *GCSStore) object(attrs *storage.ObjectAttrs) Object {
	return Object{
		Name:    path.Base(attrs.Name),
		Size:    attrs.Size,
		ModTime: attrs.Updated,
		Path:    "gs://" + attrs.Bucket + "/" + attrs.Name,
	}
}

func mapGCSErr(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}
