package watch_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/watch"
)

const debounce = 50 * time.Millisecond

type batches struct {
	mu  sync.Mutex
	got [][]string
}

func (b *batches) record(paths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, paths)
}

func (b *batches) all() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.got)
}

func (b *batches) flat() []string {
	var out []string
	for _, batch := range b.all() {
		out = append(out, batch...)
	}
	return out
}

func start(t *testing.T, root string) *batches {
	t.Helper()
	b := &batches{}
	w, err := watch.New(root, b.record, watch.WithDebounce(debounce))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return b
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReportsChangedFile(t *testing.T) {
	root := t.TempDir()
	b := start(t, root)

	write(t, filepath.Join(root, "a.md"), "# A")

	require.Eventually(t, func() bool { return slices.Contains(b.flat(), "a.md") }, 2*time.Second, 10*time.Millisecond)
}

func TestBurstIsDebouncedIntoOneBatch(t *testing.T) {
	root := t.TempDir()
	b := start(t, root)

	for _, name := range []string{"c.md", "a.md", "b.md"} {
		write(t, filepath.Join(root, name), name)
	}

	require.Eventually(t, func() bool { return len(b.all()) > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(4 * debounce)

	got := b.all()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a.md", "b.md", "c.md"}, got[0])
}

func TestIgnoresMetadataDirectories(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main")
	b := start(t, root)

	write(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/other")
	write(t, filepath.Join(root, ".notesync", "manifest.json"), "{}")
	time.Sleep(4 * debounce)
	assert.Empty(t, b.all())

	write(t, filepath.Join(root, "note.md"), "x")
	require.Eventually(t, func() bool { return len(b.all()) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"note.md"}, b.flat())
}

func TestWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	b := start(t, root)

	write(t, filepath.Join(root, "journal", "day1.md"), "one")
	require.Eventually(t, func() bool { return slices.Contains(b.flat(), "journal/day1.md") }, 2*time.Second, 10*time.Millisecond)

	write(t, filepath.Join(root, "journal", "day2.md"), "two")
	require.Eventually(t, func() bool { return slices.Contains(b.flat(), "journal/day2.md") }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsDelivery(t *testing.T) {
	root := t.TempDir()
	b := &batches{}
	w, err := watch.New(root, b.record, watch.WithDebounce(debounce))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	write(t, filepath.Join(root, "late.md"), "x")
	time.Sleep(4 * debounce)
	assert.Empty(t, b.all())
}

func TestMissingRoot(t *testing.T) {
	_, err := watch.New(filepath.Join(t.TempDir(), "missing"), func([]string) {})
	require.Error(t, err)
}
