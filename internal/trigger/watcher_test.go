package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fired struct {
	mu    sync.Mutex
	names []string
}

func (f *fired) fire(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
}

func (f *fired) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func fakeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "refs", "heads"), 0755))
	return root
}

func TestWatcherFiresOncePerBurst(t *testing.T) {
	root := fakeRepo(t)
	f := &fired{}
	w, err := New(50*time.Millisecond, f.fire, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Add("main", root))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	ref := filepath.Join(root, ".git", "refs", "heads", "master")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(ref, []byte("abc\n"), 0644))
	}

	assert.Eventually(t, func() bool { return len(f.get()) == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"main"}, f.get())
}

func TestWatcherIgnoresLockAndObjectFiles(t *testing.T) {
	root := fakeRepo(t)
	f := &fired{}
	w, err := New(20*time.Millisecond, f.fire, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Add("main", root))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "refs", "heads", "master.lock"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, f.get())
}

func TestWatcherStartTwice(t *testing.T) {
	w, err := New(time.Second, func(context.Context, string) {}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
}

func TestAddMissingRepo(t *testing.T) {
	w, err := New(time.Second, func(context.Context, string) {}, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()
	assert.Error(t, w.Add("main", filepath.Join(t.TempDir(), "nope")))
}
