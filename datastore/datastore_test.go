package datastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/config"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/database"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/lock"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

var contentDay = time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)

type fixture struct {
	root  string
	work  string
	fs    *FileStore
	index *database.FileStore
	store *IndexedStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(dir, "index.db"),
		AutoMigrate: true,
	}, utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		root: filepath.Join(dir, "datastore"),
		work: filepath.Join(dir, "work"),
	}
	require.NoError(t, os.MkdirAll(f.work, 0755))

	clock := utils.FixedClock{T: time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)}
	f.fs = NewFileStore(f.root, nil, utils.DiscardLogger())
	f.index = database.NewFileStore(db, clock, utils.DiscardLogger())
	f.store = NewIndexedStore(f.fs, f.index, IndexedStoreConfig{
		Root:            f.root,
		SoftwareVersion: "1.2.3",
		Clock:           clock,
	}, utils.DiscardLogger())
	return f
}

func (f *fixture) source(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(f.work, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func science() *paths.ScienceHandler {
	return paths.NewScienceHandler("l1b", "norm-mago", contentDay, "cdf")
}

func TestIndexedStore_ABAScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.source(t, "a.cdf", "content A")
	b := f.source(t, "b.cdf", "content B")

	h := science()
	res, err := f.store.Add(ctx, a, h)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Version)
	assert.False(t, res.Reused)
	assert.Equal(t, "science/mag/l1b/2025/10/imap_mag_l1b_norm-mago_20251017_v001.cdf", res.RelativePath)

	h = science()
	res, err = f.store.Add(ctx, b, h)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version, "different content takes the next slot")

	h = science()
	res, err = f.store.Add(ctx, a, h)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Version, "identical content reuses its slot")
	assert.True(t, res.Reused)

	pattern, _ := h.UnsequencedPattern()
	folder, _ := h.Folder()
	rows, err := f.index.QueryByPattern(ctx, pattern, folder)
	require.NoError(t, err)
	require.Len(t, rows, 2, "re-ingesting A must not add a row")

	v1, err := os.ReadFile(filepath.Join(f.root, rows[0].Path))
	require.NoError(t, err)
	assert.Equal(t, "content A", string(v1))
	v2, err := os.ReadFile(filepath.Join(f.root, rows[1].Path))
	require.NoError(t, err)
	assert.Equal(t, "content B", string(v2))

	assert.Equal(t, "1.2.3", rows[0].SoftwareVersion)
	require.NotNil(t, rows[0].ContentDate)
	assert.Equal(t, contentDay, *rows[0].ContentDate)
}

func TestIndexedStore_ReusesIdenticalUnindexedSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// v002 holds A on disk with no index row and v001 is free.
	gapped := science()
	gapped.SetSequence(2)
	rel, err := paths.RelativePath(gapped)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(f.root, rel)), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, rel), []byte("content A"), 0644))

	h := science()
	res, err := f.store.Add(ctx, f.source(t, "a.cdf", "content A"), h)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
	assert.True(t, res.Reused)
	assert.Equal(t, rel, res.RelativePath)
	assert.NoFileExists(t, filepath.Join(f.root, "science/mag/l1b/2025/10/imap_mag_l1b_norm-mago_20251017_v001.cdf"))

	rec, err := f.index.GetByPath(ctx, rel)
	require.NoError(t, err, "the existing slot is indexed")
	assert.Equal(t, 2, rec.Version)

	// A handler starting above the identical slot comes back down to it.
	high := science()
	high.SetSequence(3)
	res, err = f.fs.Add(ctx, f.source(t, "a3.cdf", "content A"), high)
	require.NoError(t, err)
	assert.Equal(t, 2, high.Version)
	assert.True(t, res.Reused)
}

func TestFileStore_OccupancyIgnoresPadding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// v002 holds A on disk; a four-digit handler must not reuse _v0002.
	three := science()
	three.SetSequence(2)
	rel, err := paths.RelativePath(three)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(f.root, rel)), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, rel), []byte("content A"), 0644))

	wide, err := paths.Select("imap_mag_l1b_norm-mago_20251017_v0002.cdf")
	require.NoError(t, err)
	res, err := f.fs.Add(ctx, f.source(t, "b.cdf", "content B"), wide)
	require.NoError(t, err)
	assert.Equal(t, 3, wide.Sequence())
	assert.Equal(t, "science/mag/l1b/2025/10/imap_mag_l1b_norm-mago_20251017_v0003.cdf", res.RelativePath)
	assert.NoFileExists(t, filepath.Join(f.root, "science/mag/l1b/2025/10/imap_mag_l1b_norm-mago_20251017_v0002.cdf"))

	// Identical bytes are reused under the name they were stored with.
	again, err := paths.Select("imap_mag_l1b_norm-mago_20251017_v0001.cdf")
	require.NoError(t, err)
	res, err = f.fs.Add(ctx, f.source(t, "a.cdf", "content A"), again)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, rel, res.RelativePath)
	assert.FileExists(t, res.Path)
}

func TestIndexedStore_IndexOnlySlotIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// v001 is known to the index but absent from disk.
	_, err := f.index.Insert(ctx, &models.FileRecord{
		Name:    "imap_mag_l1b_norm-mago_20251017_v001.cdf",
		Path:    "science/mag/l1b/2025/10/imap_mag_l1b_norm-mago_20251017_v001.cdf",
		Version: 1,
		Hash:    "not-this-content",
	})
	require.NoError(t, err)

	h := science()
	_, err = f.store.Add(ctx, f.source(t, "a.cdf", "A"), h)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
}

func TestIndexedStore_DiskOnlySlotIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	h := science()
	rel, _ := paths.RelativePath(h)
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(f.root, rel)), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, rel), []byte("unindexed"), 0644))

	_, err := f.store.Add(ctx, f.source(t, "a.cdf", "A"), h)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
}

func TestIndexedStore_DeletedSlotStaysOccupied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.source(t, "a.cdf", "A")
	h := science()
	res, err := f.store.Add(ctx, a, h)
	require.NoError(t, err)

	rec, err := f.index.GetByPath(ctx, res.RelativePath)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, &rec))
	assert.NoFileExists(t, res.Path)

	h = science()
	_, err = f.store.Add(ctx, a, h)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
}

func TestIndexedStore_Unsequenced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	h := &paths.IALiRTHandler{ContentDate: contentDay, Extension: "csv"}
	res, err := f.store.Add(ctx, f.source(t, "one.csv", "one"), h)
	require.NoError(t, err)

	_, err = f.store.Add(ctx, f.source(t, "one-again.csv", "one"), h)
	require.NoError(t, err)

	res, err = f.store.Add(ctx, f.source(t, "two.csv", "two"), h)
	require.NoError(t, err)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got), "unsequenced files are overwritten")

	rec, err := f.index.GetByPath(ctx, res.RelativePath)
	require.NoError(t, err)
	assert.Equal(t, res.Hash, rec.Hash, "changed content repairs the row in place")
	assert.Equal(t, 0, rec.Version)
}

func TestIndexedStore_HKPartsCoexist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, content := range []string{"p0", "p1", "p2"} {
		h := &paths.HKBinaryHandler{Descriptor: "hsk-pw", ContentDate: contentDay, Extension: "pkts"}
		_, err := f.store.Add(ctx, f.source(t, "p.pkts", content), h)
		require.NoError(t, err)
		assert.Equal(t, i, h.Part)
	}

	finder := NewFinder(f.root, utils.DiscardLogger())
	parts, err := finder.FindAllParts(&paths.HKBinaryHandler{Descriptor: "hsk-pw", ContentDate: contentDay, Extension: "pkts"})
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "imap_mag_l0_hsk-pw_20251017_000.pkts", filepath.Base(parts[0]))
	assert.Equal(t, "imap_mag_l0_hsk-pw_20251017_002.pkts", filepath.Base(parts[2]))
}

func TestFileStore_TornWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fs.Copy = func(src, dst string) error {
		return os.WriteFile(dst, []byte("trunc"), 0644)
	}

	h := science()
	_, err := f.store.Add(ctx, f.source(t, "a.cdf", "full content"), h)
	require.ErrorIs(t, err, ErrTornWrite)

	rel, _ := paths.RelativePath(h)
	assert.NoFileExists(t, filepath.Join(f.root, rel), "the partial copy is removed")

	pattern, _ := h.UnsequencedPattern()
	folder, _ := h.Folder()
	rows, err := f.index.QueryByPattern(ctx, pattern, folder)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFileStore_SourceNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Add(context.Background(), filepath.Join(f.work, "missing.cdf"), science())
	assert.ErrorIs(t, err, ErrSourceNotFound)
	_, err = f.fs.Add(context.Background(), filepath.Join(f.work, "missing.cdf"), science())
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestFileStore_SameFileIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	h := science()
	res, err := f.fs.Add(ctx, f.source(t, "a.cdf", "A"), h)
	require.NoError(t, err)

	again := science()
	res2, err := f.fs.Add(ctx, res.Path, again)
	require.NoError(t, err)
	assert.True(t, res2.Reused)
	assert.Equal(t, 1, again.Version)
}

func TestFileStore_PreservesModTime(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "a.cdf", "A")
	mtime := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	res, err := f.fs.Add(context.Background(), src, science())
	require.NoError(t, err)
	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
}

type stuckHandler struct {
	*paths.ScienceHandler
}

func (stuckHandler) IncreaseSequence() {}

func TestFileStore_CannotAdvanceVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.fs.Add(ctx, f.source(t, "a.cdf", "A"), science())
	require.NoError(t, err)

	_, err = f.fs.Add(ctx, f.source(t, "b.cdf", "B"), stuckHandler{science()})
	assert.ErrorIs(t, err, ErrCannotAdvanceVersion)
}

func TestIndexedStore_CannotAdvanceVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Add(ctx, f.source(t, "a.cdf", "A"), science())
	require.NoError(t, err)

	_, err = f.store.Add(ctx, f.source(t, "b.cdf", "B"), stuckHandler{science()})
	assert.ErrorIs(t, err, ErrCannotAdvanceVersion)
}

type failingIndex struct {
	FileIndex
}

func (failingIndex) Insert(context.Context, *models.FileRecord) (database.InsertOutcome, error) {
	return database.InsertCreated, errors.New("database unavailable")
}

func TestIndexedStore_InsertFailureRemovesCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := NewIndexedStore(f.fs, failingIndex{f.index}, IndexedStoreConfig{Root: f.root}, utils.DiscardLogger())

	h := science()
	_, err := store.Add(ctx, f.source(t, "a.cdf", "A"), h)
	require.Error(t, err)

	rel, _ := paths.RelativePath(h)
	assert.NoFileExists(t, filepath.Join(f.root, rel))
}

type folderArchiver struct {
	dir string
}

func (a folderArchiver) Archive(_ context.Context, source string, rec models.FileRecord) (string, error) {
	dest := filepath.Join(a.dir, filepath.FromSlash(rec.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	return dest, CopyFile(source, dest)
}

func TestIndexedStore_Archive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.store.Add(ctx, f.source(t, "a.cdf", "A"), science())
	require.NoError(t, err)
	rec, err := f.index.GetByPath(ctx, res.RelativePath)
	require.NoError(t, err)

	archiveDir := t.TempDir()
	archived, err := f.store.Archive(ctx, &rec, folderArchiver{dir: archiveDir})
	require.NoError(t, err)

	assert.NoFileExists(t, res.Path)
	assert.FileExists(t, archived.Path)
	assert.True(t, rec.IsDeleted())

	stored, err := f.index.GetByPath(ctx, res.RelativePath)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())

	copyRow, err := f.index.GetByPath(ctx, archived.Path)
	require.NoError(t, err)
	assert.False(t, copyRow.IsDeleted())
	assert.Equal(t, rec.Hash, copyRow.Hash)
}

func TestLockingStore_Delegates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := NewLockingStore(f.store, lock.NewLocalLocker(), utils.DiscardLogger())

	h := science()
	_, err := store.Add(ctx, f.source(t, "a.cdf", "A"), h)
	require.NoError(t, err)
	h = science()
	_, err = store.Add(ctx, f.source(t, "b.cdf", "B"), h)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
}

func TestLockingStore_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := NewLockingStore(f.store, lock.NewLocalLocker(), utils.DiscardLogger())

	sources := []string{f.source(t, "a.cdf", "A"), f.source(t, "b.cdf", "B")}
	handlers := []*paths.ScienceHandler{science(), science()}
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i := range sources {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Add(ctx, sources[i], handlers[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []int{1, 2}, []int{handlers[0].Version, handlers[1].Version})

	pattern, _ := science().UnsequencedPattern()
	folder, _ := science().Folder()
	rows, err := f.index.QueryByPattern(ctx, pattern, folder)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestLockKey_IgnoresSequence(t *testing.T) {
	h := science()
	k1, err := LockKey(h)
	require.NoError(t, err)
	h.SetSequence(7)
	k2, err := LockKey(h)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, "science/mag/l1b/2025/10/imap_mag_l1b_norm-mago_20251017_v*.cdf", k1)

	daily, err := LockKey(&paths.IALiRTHandler{ContentDate: contentDay, Extension: "csv"})
	require.NoError(t, err)
	assert.Equal(t, "ialirt/2025/10/imap_ialirt_20251017.csv", daily)
}

func TestFinder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, c := range []string{"A", "B", "C"} {
		_, err := f.fs.Add(ctx, f.source(t, "x.cdf", c), science())
		require.NoError(t, err)
	}

	finder := NewFinder(f.root, utils.DiscardLogger())
	latest, err := finder.FindLatestVersion(science())
	require.NoError(t, err)
	assert.Equal(t, "imap_mag_l1b_norm-mago_20251017_v003.cdf", filepath.Base(latest))

	exact := science()
	exact.SetSequence(2)
	p, err := finder.FindMatching(exact)
	require.NoError(t, err)
	assert.FileExists(t, p)

	exact.SetSequence(9)
	_, err = finder.FindMatching(exact)
	assert.ErrorIs(t, err, ErrNoMatchingFile)

	_, err = finder.FindLatestVersion(paths.NewScienceHandler("l2", "norm-srf", contentDay, "cdf"))
	assert.ErrorIs(t, err, ErrNoMatchingFile)
}
