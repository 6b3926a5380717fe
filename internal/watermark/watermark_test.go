package watermark

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgm-archive/archiver/internal/store"
	"github.com/bgm-archive/archiver/internal/testutil"
	"github.com/bgm-archive/archiver/internal/vcs"
	"github.com/bgm-archive/archiver/internal/vcs/git"
)

func openRepo(t *testing.T, r *testutil.GitRepo) vcs.Repository {
	t.Helper()
	g, err := git.New(r.Dir)
	require.NoError(t, err)
	return g
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), ".archiver", "last_commit"))

	_, ok, err := fs.Get(ctx, "convert:main")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fs.Set(ctx, "convert:main", "abc"))
	require.NoError(t, fs.Set(ctx, "convert:main", "def"))

	got, ok, err := fs.Get(ctx, "convert:main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "def", got)
}

func TestDBStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer st.Close()

	ds := NewDBStore(st)
	_, ok, err := ds.Get(ctx, DBKey("main"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ds.Set(ctx, DBKey("main"), "abc"))
	got, ok, err := ds.Get(ctx, DBKey("main"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", got)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "convert:main", ConvertKey("main"))
	assert.Equal(t, "cache:html", CacheKey("html"))
	assert.Equal(t, "db", Scope(DBKey("main")))
}

func TestTrackerDefaultsToFirstCommit(t *testing.T) {
	r := testutil.NewGitRepo(t)
	first := r.Commit("init repo", nil)
	r.Commit("GROUP a | 1000", map[string]string{"group/00/00/1.html": "a"})

	tr := NewTracker(NewFileStore(filepath.Join(t.TempDir(), "wm")), ConvertKey("main"), openRepo(t, r), nil)
	got, err := tr.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestTrackerMonotonic(t *testing.T) {
	ctx := context.Background()
	r := testutil.NewGitRepo(t)
	c0 := r.Commit("init repo", nil)
	c1 := r.Commit("GROUP a | 1000", map[string]string{"group/00/00/1.html": "a"})
	c2 := r.Commit("GROUP b | 2000", map[string]string{"group/00/00/2.html": "b"})

	tr := NewTracker(NewFileStore(filepath.Join(t.TempDir(), "wm")), ConvertKey("main"), openRepo(t, r), nil)

	require.NoError(t, tr.Advance(ctx, c1))
	require.NoError(t, tr.Advance(ctx, c2))
	// same commit is a no-op
	require.NoError(t, tr.Advance(ctx, c2))

	err := tr.Advance(ctx, c0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegression))

	got, err := tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, c2, got)
}

func TestTrackerOverride(t *testing.T) {
	ctx := context.Background()
	r := testutil.NewGitRepo(t)
	c0 := r.Commit("init repo", nil)
	c1 := r.Commit("GROUP a | 1000", map[string]string{"group/00/00/1.html": "a"})

	tr := NewTracker(NewFileStore(filepath.Join(t.TempDir(), "wm")), ConvertKey("main"), openRepo(t, r), nil)
	require.NoError(t, tr.Advance(ctx, c1))

	// override may move backwards
	got, err := tr.Override(ctx, c0[:10])
	require.NoError(t, err)
	assert.Equal(t, c0, got)

	_, err = tr.Override(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, vcs.ErrRefNotFound))

	cur, err := tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, c0, cur)
}
