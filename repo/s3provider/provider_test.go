package s3provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/aws/s3"
	"github.com/notesync/notesync/aws/s3/mirror"
	"github.com/notesync/notesync/aws/s3/s3test"
	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/fs/billy"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/repo/s3provider"
)

const bucket = "notes-bucket"

type fixture struct {
	fake *s3test.Fake
	fsys *billy.FS
	p    *s3provider.Provider
	ctx  context.Context
}

func settings(bucketName, prefix string) repo.Settings {
	return repo.Settings{
		Provider: repo.KindS3,
		S3:       &repo.S3Settings{Bucket: bucketName, Prefix: prefix, LocalPath: "/unused"},
	}
}

func newFixture(t *testing.T, versioned bool) *fixture {
	t.Helper()
	fake := s3test.New()
	fake.CreateBucket(bucket, versioned)
	return newFixtureWith(t, fake, billy.NewInMemoryFS(), "vault")
}

func newFixtureWith(t *testing.T, fake *s3test.Fake, fsys *billy.FS, prefix string) *fixture {
	t.Helper()
	p, err := s3provider.New(settings(bucket, prefix),
		s3provider.WithClient(s3.NewWithClient(fake)),
		s3provider.WithFilesystem(fsys),
		s3provider.WithConcurrency(2),
	)
	require.NoError(t, err)
	return &fixture{fake: fake, fsys: fsys, p: p, ctx: context.Background()}
}

func (f *fixture) open(t *testing.T) repo.OpenResult {
	t.Helper()
	res, err := f.p.OpenOrClone(f.ctx)
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T) repo.Status {
	t.Helper()
	st, err := f.p.Status(f.ctx)
	require.NoError(t, err)
	return st
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	data, err := f.p.ReadFile(f.ctx, path)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) remote(t *testing.T, key string) string {
	t.Helper()
	data, ok := f.fake.Object(bucket, key)
	require.True(t, ok, "object %s missing", key)
	return string(data)
}

func TestManifestLocationMatchesRepo(t *testing.T) {
	assert.Equal(t, repo.S3ManifestPath, mirror.ManifestPath)
	assert.Equal(t, repo.StateDir, mirror.StateDir)
}

func TestVersioningRequiredBeforeDownload(t *testing.T) {
	f := newFixture(t, false)
	f.fake.Seed(bucket, "vault/a.md", []byte("a"))

	_, err := f.p.OpenOrClone(f.ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeS3VersioningRequired, errors.CodeOf(err))
	assert.Zero(t, f.fake.Calls(s3test.OpListObjectsV2))
	assert.Zero(t, f.fake.Calls(s3test.OpGetObject))

	exists, err := f.fsys.Exists("a.md")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNotInitialized(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.p.Status(f.ctx)
	assert.Equal(t, errors.CodeRepoNotInitialized, errors.CodeOf(err))
	assert.Equal(t, errors.CodeRepoNotInitialized, errors.CodeOf(f.p.Pull(f.ctx)))
}

func TestOpenDownloadsPrefix(t *testing.T) {
	f := newFixture(t, true)
	f.fake.Seed(bucket, "vault/notes/a.md", []byte("alpha"))
	f.fake.Seed(bucket, "vault/b.md", []byte("beta"))
	f.fake.Seed(bucket, "vault/folder/", nil)
	f.fake.Seed(bucket, "elsewhere/c.md", []byte("gamma"))

	res := f.open(t)
	assert.Equal(t, []repo.TreeEntry{
		{Path: "b.md", Size: 4},
		{Path: "notes", IsDir: true},
		{Path: "notes/a.md", Size: 5},
	}, res.Tree)
	assert.Equal(t, repo.Status{Provider: repo.KindS3, Branch: "notes-bucket/vault"}, res.Status)
	assert.Equal(t, "alpha", f.read(t, "notes/a.md"))

	again := f.open(t)
	assert.Equal(t, res, again)
	assert.Equal(t, f.status(t), f.status(t))

	commit, err := f.p.CommitAll(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, repo.NothingToCommit(), commit)
}

func TestOpenAdoptsIdenticalLocalFiles(t *testing.T) {
	fake := s3test.New()
	fake.CreateBucket(bucket, true)
	fake.Seed(bucket, "vault/a.md", []byte("same"))

	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("a.md", []byte("same"), 0o644))

	f := newFixtureWith(t, fake, fsys, "vault")
	res := f.open(t)
	assert.False(t, res.Status.HasUncommitted)
	assert.Zero(t, fake.Calls(s3test.OpGetObject))
}

func TestOpenRejectsDifferingLocalFiles(t *testing.T) {
	fake := s3test.New()
	fake.CreateBucket(bucket, true)
	fake.Seed(bucket, "vault/a.md", []byte("remote"))

	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("a.md", []byte("local"), 0o644))

	f := newFixtureWith(t, fake, fsys, "vault")
	_, err := f.p.OpenOrClone(f.ctx)
	assert.Equal(t, errors.CodeS3Conflict, errors.CodeOf(err))

	data, err := fsys.ReadFile("a.md")
	require.NoError(t, err)
	assert.Equal(t, "local", string(data))
}

func TestLocalEditIsPushed(t *testing.T) {
	f := newFixture(t, true)
	f.fake.Seed(bucket, "vault/a.md", []byte("v1"))
	f.open(t)

	require.NoError(t, f.p.WriteFile(f.ctx, "a.md", []byte("v2")))
	require.NoError(t, f.p.WriteFile(f.ctx, "notes/new.md", []byte("new")))

	st := f.status(t)
	assert.Equal(t, 2, st.Ahead)
	assert.Equal(t, 2, st.PendingPushCount)
	assert.True(t, st.HasUncommitted)
	assert.False(t, st.NeedsPull)

	commit, err := f.p.Commit(f.ctx, []string{"a.md"}, "")
	require.NoError(t, err)
	assert.True(t, commit.Committed)
	assert.Equal(t, "1 file(s) pending upload", commit.Message)

	require.NoError(t, f.p.Push(f.ctx))
	assert.Equal(t, "v2", f.remote(t, "vault/a.md"))
	assert.Equal(t, "new", f.remote(t, "vault/notes/new.md"))
	assert.Equal(t, repo.Status{Provider: repo.KindS3, Branch: "notes-bucket/vault"}, f.status(t))

	require.NoError(t, f.p.Push(f.ctx), "nothing left to push")
}

func TestRemoteEditIsFetchedThenPulled(t *testing.T) {
	f := newFixture(t, true)
	f.fake.Seed(bucket, "vault/a.md", []byte("v1"))
	f.fake.Seed(bucket, "vault/gone.md", []byte("bye"))
	f.open(t)

	f.fake.Seed(bucket, "vault/a.md", []byte("remote v2"))
	f.fake.Seed(bucket, "vault/added.md", []byte("added"))
	f.fake.Remove(bucket, "vault/gone.md")

	st, err := f.p.Fetch(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Behind)
	assert.True(t, st.NeedsPull)
	assert.Equal(t, "v1", f.read(t, "a.md"), "fetch must not touch the working copy")

	require.NoError(t, f.p.Pull(f.ctx))
	assert.Equal(t, "remote v2", f.read(t, "a.md"))
	assert.Equal(t, "added", f.read(t, "added.md"))
	_, err = f.p.ReadFile(f.ctx, "gone.md")
	assert.Equal(t, errors.CodeFSNotFound, errors.CodeOf(err))

	assert.Equal(t, repo.Status{Provider: repo.KindS3, Branch: "notes-bucket/vault"}, f.status(t))
}

func TestConcurrentRemoteWriteIsDetected(t *testing.T) {
	f := newFixture(t, true)
	f.fake.Seed(bucket, "vault/a.md", []byte("base"))
	f.open(t)

	f.fake.Seed(bucket, "vault/a.md", []byte("theirs"))
	require.NoError(t, f.p.WriteFile(f.ctx, "a.md", []byte("mine")))

	err := f.p.Push(f.ctx)
	assert.Equal(t, errors.CodeS3SyncFailed, errors.CodeOf(err))
	assert.Equal(t, "theirs", f.remote(t, "vault/a.md"))

	err = f.p.Pull(f.ctx)
	assert.Equal(t, errors.CodeS3Conflict, errors.CodeOf(err))
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, "mine", f.read(t, "a.md"))

	err = f.p.Push(f.ctx)
	assert.Equal(t, errors.CodeS3SyncFailed, errors.CodeOf(err))
}

func TestDeletes(t *testing.T) {
	f := newFixture(t, true)
	f.fake.Seed(bucket, "vault/a.md", []byte("a"))
	f.fake.Seed(bucket, "vault/b.md", []byte("b"))
	f.open(t)

	require.NoError(t, f.fsys.Remove("a.md"))
	assert.Equal(t, 1, f.status(t).PendingPushCount)
	require.NoError(t, f.p.Push(f.ctx))
	assert.Equal(t, []string{"vault/b.md"}, f.fake.Keys(bucket))

	f.fake.Seed(bucket, "vault/b.md", []byte("b2"))
	require.NoError(t, f.fsys.Remove("b.md"))
	err := f.p.Push(f.ctx)
	assert.Equal(t, errors.CodeS3SyncFailed, errors.CodeOf(err), "remote changed since the baseline")
	assert.Equal(t, []string{"vault/b.md"}, f.fake.Keys(bucket))
}

func TestAuthFailure(t *testing.T) {
	f := newFixture(t, true)
	f.fake.FailOn(s3test.OpGetBucketVersioning, s3test.APIError("InvalidAccessKeyId"))

	_, err := f.p.OpenOrClone(f.ctx)
	assert.Equal(t, errors.CodeS3AuthFailed, errors.CodeOf(err))
	assert.True(t, errors.IsAuth(err))
}

func TestFetchFailure(t *testing.T) {
	f := newFixture(t, true)
	f.open(t)
	f.fake.FailOn(s3test.OpListObjectsV2, s3test.APIError("InternalError"))

	_, err := f.p.Fetch(f.ctx)
	assert.Equal(t, errors.CodeS3SyncFailed, errors.CodeOf(err))
}

func TestHistory(t *testing.T) {
	f := newFixture(t, true)
	f.open(t)

	require.NoError(t, f.p.WriteFile(f.ctx, "a.md", []byte("1")))
	require.NoError(t, f.p.Push(f.ctx))
	require.NoError(t, f.p.WriteFile(f.ctx, "a.md", []byte("333")))
	require.NoError(t, f.p.Push(f.ctx))

	revs, err := f.p.History(f.ctx, "a.md", 0)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, int64(3), revs[0].Size)
	assert.Equal(t, int64(1), revs[1].Size)
	assert.True(t, revs[0].When.After(revs[1].When))

	_, err = f.p.History(f.ctx, "../a.md", 0)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestProviderMismatch(t *testing.T) {
	fake := s3test.New()
	fake.CreateBucket(bucket, true)

	gitCopy := billy.NewInMemoryFS()
	require.NoError(t, gitCopy.MkdirAll(repo.GitDir, 0o755))
	f := newFixtureWith(t, fake, gitCopy, "vault")
	_, err := f.p.OpenOrClone(f.ctx)
	assert.Equal(t, errors.CodeRepoProviderMismatch, errors.CodeOf(err))

	shared := billy.NewInMemoryFS()
	newFixtureWith(t, fake, shared, "vault").open(t)
	other := newFixtureWith(t, fake, shared, "other")
	_, err = other.p.OpenOrClone(other.ctx)
	assert.Equal(t, errors.CodeRepoProviderMismatch, errors.CodeOf(err))
}
