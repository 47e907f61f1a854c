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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"janitor/internal/apperr"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func writeAged(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("backup:"+name), 0o644))
	mod := fixedNow.Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func newDirManager(t *testing.T) (Manager, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)
	return Manager{Store: store, Now: func() time.Time { return fixedNow }, ResiduePrefix: "preflight-"}, dir
}

func TestCleanupPartitionsByAge(t *testing.T) {
	m, dir := newDirManager(t)
	writeAged(t, dir, "old-1.db", 10*day)
	writeAged(t, dir, "old-2.db", 10*day)
	for i := 0; i < 3; i++ {
		writeAged(t, dir, fmt.Sprintf("new-%d.db", i), 2*day)
	}

	res, err := m.Cleanup(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Deleted: 2, Kept: 3}, res)

	left, err := m.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, left, 3)
	for _, obj := range left {
		assert.True(t, strings.HasPrefix(obj.Name, "new-"), obj.Name)
	}
}

func TestCleanupNeverDeletesYoungerThanRetention(t *testing.T) {
	m, dir := newDirManager(t)
	ages := []time.Duration{0, time.Hour, 3 * day, 7 * day, 7*day + time.Second, 30 * day}
	for i, age := range ages {
		writeAged(t, dir, fmt.Sprintf("b%d.db", i), age)
	}
	res, err := m.Cleanup(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, len(ages), res.Deleted+res.Kept)
	assert.Equal(t, 2, res.Deleted)

	left, _ := m.List(context.Background(), 0)
	for _, obj := range left {
		assert.False(t, Expired(obj, 7, fixedNow))
	}
}

func TestCleanupRejectsNegativeDays(t *testing.T) {
	m, _ := newDirManager(t)
	_, err := m.Cleanup(context.Background(), -1)
	var verr apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "days_to_keep", verr.Field)
}

type flakyStore struct {
	objs    []Object
	vanish  map[string]bool
	failing map[string]bool
}

func (s *flakyStore) List(context.Context) ([]Object, error) { return s.objs, nil }
func (s *flakyStore) Stat(_ context.Context, name string) (Object, error) {
	for _, o := range s.objs {
		if o.Name == name {
			return o, nil
		}
	}
	return Object{}, fs.ErrNotExist
}
func (s *flakyStore) Delete(_ context.Context, name string) error {
	if s.vanish[name] {
		return fmt.Errorf("remove %s: %w", name, fs.ErrNotExist)
	}
	if s.failing[name] {
		return errors.New("permission denied")
	}
	return nil
}
func (s *flakyStore) Put(context.Context, string, io.Reader) (Object, error) {
	return Object{}, errors.New("read only")
}
func (s *flakyStore) Location() string { return "memory" }

func TestCleanupCountsVanishedAsDeletedAndFailedAsKept(t *testing.T) {
	old := fixedNow.Add(-20 * day)
	store := &flakyStore{
		objs: []Object{
			{Name: "a.db", ModTime: old},
			{Name: "b.db", ModTime: old},
			{Name: "c.db", ModTime: old},
			{Name: "d.db", ModTime: fixedNow},
		},
		vanish:  map[string]bool{"b.db": true},
		failing: map[string]bool{"c.db": true},
	}
	m := Manager{Store: store, Now: func() time.Time { return fixedNow }}
	res, err := m.Cleanup(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c.db")
	assert.Equal(t, CleanupResult{Deleted: 2, Kept: 2}, res)
}

func TestDeleteSingleBackup(t *testing.T) {
	m, dir := newDirManager(t)
	writeAged(t, dir, "keep.db", day)
	ctx := context.Background()

	require.NoError(t, m.Delete(ctx, "keep.db"))
	_, err := os.Stat(filepath.Join(dir, "keep.db"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	var nf apperr.NotFoundError
	require.ErrorAs(t, m.Delete(ctx, "keep.db"), &nf)

	for _, bad := range []string{"../etc/passwd", "a/b.db", `a\b.db`, "..", ""} {
		var verr apperr.ValidationError
		assert.ErrorAs(t, m.Delete(ctx, bad), &verr, bad)
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	m, dir := newDirManager(t)
	writeAged(t, dir, "oldest.db", 3*day)
	writeAged(t, dir, "middle.db", 2*day)
	writeAged(t, dir, "newest.db", day)

	objs, err := m.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "newest.db", objs[0].Name)
	assert.Equal(t, "middle.db", objs[1].Name)
	assert.Equal(t, filepath.Join(dir, "newest.db"), objs[0].Path)
}

func TestSnapshotStatsAndResidue(t *testing.T) {
	m, dir := newDirManager(t)
	ctx := context.Background()
	writeAged(t, dir, "ancient.db", 40*day)

	obj, err := m.Snapshot(ctx, "Preflight Roundtrip", func(_ context.Context, path string) error {
		return os.WriteFile(path, []byte("sqlite"), 0o644)
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.Name, "preflight-roundtrip-"), obj.Name)
	assert.EqualValues(t, 6, obj.Size)

	st, err := m.Stats(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 1, st.ExpiredCount)
	assert.Equal(t, 1, st.ResidueCount)

	n, err := m.PurgeResidue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = m.PurgeResidue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), tempPrefix), "temp file left behind")
	}
}

func TestSnapshotFailureLeavesNothing(t *testing.T) {
	m, dir := newDirManager(t)
	_, err := m.Snapshot(context.Background(), "x", func(context.Context, string) error { return errors.New("disk full") })
	require.Error(t, err)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}
