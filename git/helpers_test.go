package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/require"

	fsb "github.com/notesync/notesync/fs/billy"
)

func TestMain(m *testing.M) {
	// serve file:// remotes in-process instead of shelling out to git-upload-pack
	client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
	os.Exit(m.Run())
}

var testSig = Signature{Name: "Test", Email: "test@example.com"}

// newRemote creates an empty bare repository and returns its file:// URL.
func newRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return "file://" + dir
}

type workingCopy struct {
	repo *Repo
	fs   *fsb.FS
	dir  string
	ctx  context.Context
}

func cloneWorkingCopy(t *testing.T, url string) *workingCopy {
	t.Helper()
	dir := t.TempDir()
	fsys := fsb.NewOSFS(dir)
	repo, err := Clone(context.Background(), url, &Options{FS: fsys, Branch: "main"})
	require.NoError(t, err)
	return &workingCopy{repo: repo, fs: fsys, dir: dir, ctx: context.Background()}
}

func (w *workingCopy) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, w.fs.WriteFile(path, []byte(content), 0o644))
}

func (w *workingCopy) read(t *testing.T, path string) string {
	t.Helper()
	b, err := w.fs.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func (w *workingCopy) commitAll(t *testing.T, msg string) string {
	t.Helper()
	sig := testSig
	sig.When = time.Now()
	hash, err := w.repo.Commit(w.ctx, msg, sig, CommitOpts{All: true})
	require.NoError(t, err)
	return hash
}

func (w *workingCopy) commitAndPush(t *testing.T, path, content, msg string) {
	t.Helper()
	w.write(t, path, content)
	w.commitAll(t, msg)
	require.NoError(t, w.repo.Push(w.ctx))
}
