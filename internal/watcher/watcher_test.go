package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string, calls *atomic.Int32, ops *atomic.Uint32) *Watcher {
	t.Helper()
	w, err := New(path, func(op fsnotify.Op) {
		ops.Store(uint32(op))
		calls.Add(1)
	})
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_WriteTriggersOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courses.yaml")
	require.NoError(t, os.WriteFile(path, []byte("courses: []\n"), 0600))

	var calls atomic.Int32
	var ops atomic.Uint32
	startWatcher(t, path, &calls, &ops)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("courses:\n  - name: C#\n"), 0600))
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.NotZero(t, fsnotify.Op(ops.Load())&fsnotify.Write)
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	var calls atomic.Int32
	var ops atomic.Uint32
	startWatcher(t, path, &calls, &ops)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatcher_CreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	var calls atomic.Int32
	var ops atomic.Uint32
	startWatcher(t, path, &calls, &ops)

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NotZero(t, fsnotify.Op(ops.Load())&fsnotify.Create)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.NotZero(t, fsnotify.Op(ops.Load())&fsnotify.Remove)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "x"), nil)
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestWatcher_MissingParent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing", "settings.json"), func(fsnotify.Op) {})
	require.NoError(t, err)
	assert.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
}
