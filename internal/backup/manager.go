package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"janitor/internal/apperr"
)

const day = 24 * time.Hour

// Manager applies retention and naming rules on top of a Store.
type Manager struct {
	Store         Store
	Now           func() time.Time
	ResiduePrefix string
}

type CleanupResult struct {
	Deleted int `json:"deleted"`
	Kept    int `json:"kept"`
}

type Stats struct {
	Count        int       `json:"backup_count"`
	TotalBytes   int64     `json:"total_bytes"`
	Newest       time.Time `json:"newest"`
	Oldest       time.Time `json:"oldest"`
	ExpiredCount int       `json:"expired_count"`
	ResidueCount int       `json:"residue_count"`
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// List returns backups newest first. limit <= 0 returns all.
func (m Manager) List(ctx context.Context, limit int) ([]Object, error) {
	objs, err := m.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	sort.SliceStable(objs, func(i, j int) bool {
		if objs[i].ModTime.Equal(objs[j].ModTime) {
			return objs[i].Name > objs[j].Name
		}
		return objs[i].ModTime.After(objs[j].ModTime)
	})
	if limit > 0 && len(objs) > limit {
		objs = objs[:limit]
	}
	return objs, nil
}

// Expired reports whether an object is older than daysToKeep at now.
func Expired(obj Object, daysToKeep int, now time.Time) bool {
	return now.Sub(obj.ModTime) > time.Duration(daysToKeep)*day
}

// Cleanup deletes backups older than daysToKeep. Every examined file lands in
// exactly one of Deleted or Kept. A file that disappears before its delete
// counts as deleted; a delete that fails keeps the file and the failures are
// returned joined alongside the counts.
func (m Manager) Cleanup(ctx context.Context, daysToKeep int) (CleanupResult, error) {
	if daysToKeep < 0 {
		return CleanupResult{}, apperr.Validationf("days_to_keep", "must be >= 0, got %d", daysToKeep)
	}
	objs, err := m.Store.List(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list backups: %w", err)
	}
	now := m.now()
	var (
		res  CleanupResult
		errs []error
	)
	for _, obj := range objs {
		if !Expired(obj, daysToKeep, now) {
			res.Kept++
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Kept++
			errs = append(errs, err)
			continue
		}
		err := m.Store.Delete(ctx, obj.Name)
		switch {
		case err == nil, errors.Is(err, fs.ErrNotExist):
			res.Deleted++
		default:
			res.Kept++
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Name, err))
		}
	}
	return res, errors.Join(errs...)
}

// Delete removes one backup by file name.
func (m Manager) Delete(ctx context.Context, filename string) error {
	if err := ValidateName(filename); err != nil {
		return err
	}
	if _, err := m.Store.Stat(ctx, filename); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFoundError{Kind: "backup", Name: filename}
		}
		return err
	}
	if err := m.Store.Delete(ctx, filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete backup %s: %w", filename, err)
	}
	return nil
}

// PurgeResidue deletes every backup carrying the residue prefix.
func (m Manager) PurgeResidue(ctx context.Context) (int, error) {
	if m.ResiduePrefix == "" {
		return 0, nil
	}
	objs, err := m.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list backups: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, obj := range objs {
		if !strings.HasPrefix(obj.Name, m.ResiduePrefix) {
			continue
		}
		if err := m.Store.Delete(ctx, obj.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Name, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Stats summarises the store for audit and wizard probes.
func (m Manager) Stats(ctx context.Context, daysToKeep int) (Stats, error) {
	objs, err := m.Store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list backups: %w", err)
	}
	now := m.now()
	var st Stats
	for _, obj := range objs {
		st.Count++
		st.TotalBytes += obj.Size
		if st.Newest.IsZero() || obj.ModTime.After(st.Newest) {
			st.Newest = obj.ModTime
		}
		if st.Oldest.IsZero() || obj.ModTime.Before(st.Oldest) {
			st.Oldest = obj.ModTime
		}
		if Expired(obj, daysToKeep, now) {
			st.ExpiredCount++
		}
		if m.ResiduePrefix != "" && strings.HasPrefix(obj.Name, m.ResiduePrefix) {
			st.ResidueCount++
		}
	}
	return st, nil
}

// SnapshotFunc writes a full copy of the store to a local path.
type SnapshotFunc func(ctx context.Context, path string) error

// Snapshot writes a new backup named after label and the current time.
func (m Manager) Snapshot(ctx context.Context, label string, snap SnapshotFunc) (Object, error) {
	name := SnapshotName(label, m.now())
	dir, err := os.MkdirTemp("", "janitor-snapshot-")
	if err != nil {
		return Object{}, err
	}
	defer os.RemoveAll(dir)
	local := filepath.Join(dir, name)
	if err := snap(ctx, local); err != nil {
		return Object{}, fmt.Errorf("snapshot store: %w", err)
	}
	f, err := os.Open(local)
	if err != nil {
		return Object{}, err
	}
	defer f.Close()
	obj, err := m.Store.Put(ctx, name, f)
	if err != nil {
		return Object{}, fmt.Errorf("store snapshot: %w", err)
	}
	return obj, nil
}

var labelCleaner = regexp.MustCompile(`[^a-z0-9_-]+`)

// SnapshotName builds "<label>-<utc timestamp>-<short id>.db".
func SnapshotName(label string, at time.Time) string {
	label = strings.Trim(labelCleaner.ReplaceAllString(strings.ToLower(label), "-"), "-")
	if label == "" {
		label = "janitor"
	}
	return fmt.Sprintf("%s-%s-%s.db", label, at.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// ValidateName rejects names that could address anything outside the store.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return apperr.ValidationError{Field: "filename", Message: "filename required"}
	case strings.ContainsAny(name, `/\`):
		return apperr.ValidationError{Field: "filename", Message: "filename must not contain path separators"}
	case name == "." || name == ".." || strings.HasPrefix(name, tempPrefix):
		return apperr.Validationf("filename", "invalid backup name %q", name)
	}
	return nil
}

// ValidateLabel accepts empty labels and short printable ones.
func ValidateLabel(label string) error {
	if len(label) > 40 {
		return apperr.ValidationError{Field: "label", Message: "label must be at most 40 characters"}
	}
	for _, r := range label {
		if r < 0x20 || r > 0x7e {
			return apperr.ValidationError{Field: "label", Message: "label must be printable ASCII"}
		}
	}
	return nil
}
