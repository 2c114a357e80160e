package localprovider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/fs/billy"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/repo/localprovider"
)

func newProvider(t *testing.T, opts ...localprovider.Option) *localprovider.Provider {
	t.Helper()
	p, err := localprovider.New(repo.Settings{
		Provider: repo.KindLocal,
		Local:    &repo.LocalSettings{LocalPath: t.TempDir() + "/notes"},
	}, opts...)
	require.NoError(t, err)
	return p
}

func TestOpenCreatesFolder(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	_, err := p.Status(ctx)
	assert.Equal(t, errors.CodeRepoNotInitialized, errors.CodeOf(err))

	res, err := p.OpenOrClone(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Tree)
	assert.Equal(t, repo.Status{Provider: repo.KindLocal}, res.Status)

	require.NoError(t, p.WriteFile(ctx, "notes/a.md", []byte("a")))
	again, err := p.OpenOrClone(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Tree, 2)
	assert.Equal(t, res.LocalPath, again.LocalPath)
}

func TestRemoteOperationsAreNoOps(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, localprovider.WithFilesystem(billy.NewInMemoryFS()))
	_, err := p.OpenOrClone(ctx)
	require.NoError(t, err)

	st, err := p.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, repo.Status{Provider: repo.KindLocal}, st)
	require.NoError(t, p.Pull(ctx))
	require.NoError(t, p.Push(ctx))

	require.NoError(t, p.WriteFile(ctx, "a.md", []byte("a")))
	res, err := p.CommitAll(ctx, "msg")
	require.NoError(t, err)
	assert.Equal(t, repo.NothingToCommit(), res)

	_, err = p.Commit(ctx, []string{"../a.md"}, "msg")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestUnsavedTracking(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, localprovider.WithFilesystem(billy.NewInMemoryFS()))
	_, err := p.OpenOrClone(ctx)
	require.NoError(t, err)

	p.MarkUnsaved("a.md", true)
	p.MarkUnsaved("b.md", true)

	st, err := p.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.HasUncommitted)
	assert.Zero(t, st.Ahead)
	assert.Zero(t, st.PendingPushCount)
	assert.False(t, st.NeedsPull)

	again, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, again)

	require.NoError(t, p.WriteFile(ctx, "a.md", []byte("saved")))
	p.MarkUnsaved("b.md", false)

	st, err = p.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasUncommitted)
}

func TestUnsavedMarksUseCleanPaths(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, localprovider.WithFilesystem(billy.NewInMemoryFS()))
	_, err := p.OpenOrClone(ctx)
	require.NoError(t, err)

	p.MarkUnsaved("./a.md", true)
	p.MarkUnsaved("notes//b.md", true)
	p.MarkUnsaved("../outside.md", true)

	require.NoError(t, p.WriteFile(ctx, "a.md", []byte("a")))
	st, err := p.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.HasUncommitted, "notes/b.md still unsaved")

	p.MarkUnsaved("notes/b.md", false)
	st, err = p.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasUncommitted)
}

func TestReadAndHistory(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, localprovider.WithFilesystem(billy.NewInMemoryFS()))
	_, err := p.OpenOrClone(ctx)
	require.NoError(t, err)

	require.NoError(t, p.WriteFile(ctx, "a.md", []byte("hello")))
	data, err := p.ReadFile(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	revs, err := p.History(ctx, "a.md", 10)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, int64(5), revs[0].Size)

	_, err = p.History(ctx, "missing.md", 10)
	assert.Equal(t, errors.CodeFSNotFound, errors.CodeOf(err))
}

func TestRefusesGitWorkingCopy(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.MkdirAll(repo.GitDir, 0o755))

	p := newProvider(t, localprovider.WithFilesystem(fsys))
	_, err := p.OpenOrClone(context.Background())
	assert.Equal(t, errors.CodeRepoProviderMismatch, errors.CodeOf(err))
}
