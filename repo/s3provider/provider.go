// Package s3provider implements repo.Provider by mirroring a working copy to a
// prefix of a versioned S3 bucket.
//
// There is no commit graph. The manifest in .notesync records what both sides
// agreed on at the last pull or push and what the last fetch saw remotely;
// every status, pull and push is a three-way comparison of the working copy,
// that baseline and the fetched snapshot. Uploads are conditional on the ETag
// the baseline recorded, so a concurrent writer is detected rather than
// overwritten.
package s3provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notesync/notesync/aws/s3"
	s3errors "github.com/notesync/notesync/aws/s3/errors"
	"github.com/notesync/notesync/aws/s3/mirror"
	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/fs"
	"github.com/notesync/notesync/repo"
)

// DefaultConcurrency bounds parallel transfers.
const DefaultConcurrency = 8

var _ repo.Provider = (*Provider)(nil)

// Provider is an S3-backed repo.Provider.
type Provider struct {
	settings    repo.S3Settings
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	client   *s3.Client
	fsys     fs.Filesystem
	manifest *mirror.Manifest
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClient uses client instead of building one from the settings.
func WithClient(client *s3.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// WithFilesystem uses fsys as the working copy instead of the OS directory
// named by the settings.
func WithFilesystem(fsys fs.Filesystem) Option {
	return func(p *Provider) {
		p.fsys = fsys
	}
}

// WithConcurrency sets how many objects are transferred at once.
func WithConcurrency(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClock overrides the timestamps written to the manifest.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New creates a provider for validated S3 settings. Nothing touches the disk
// or network until OpenOrClone.
func New(settings repo.Settings, opts ...Option) (*Provider, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Provider != repo.KindS3 {
		return nil, errors.Newf(errors.CodeValidation, "s3.new", "settings are for provider %q", settings.Provider)
	}

	p := &Provider{
		settings:    *settings.S3,
		timeout:     settings.Timeout(),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("provider", repo.KindS3, "bucket", p.settings.Bucket, "prefix", p.settings.Prefix)
	return p, nil
}

func (p *Provider) clientOptions() []s3.Option {
	opts := []s3.Option{
		s3.WithTimeout(p.timeout),
		// one attempt per call; callers decide when to try again
		s3.WithMaxRetries(1),
		s3.WithForcePathStyle(p.settings.ForcePathStyle),
		s3.WithLogger(p.logger),
	}
	if p.settings.Region != "" {
		opts = append(opts, s3.WithRegion(p.settings.Region))
	}
	if p.settings.Endpoint != "" {
		opts = append(opts, s3.WithEndpoint(p.settings.Endpoint))
	}
	if p.settings.AccessKeyID != "" {
		opts = append(opts, s3.WithStaticCredentials(p.settings.AccessKeyID, p.settings.SecretAccessKey, p.settings.SessionToken))
	}
	return opts
}

// Kind implements repo.Provider.
func (p *Provider) Kind() repo.Kind {
	return repo.KindS3
}

// OpenOrClone implements repo.Provider. The bucket must have versioning
// enabled; this is checked before anything is downloaded. A folder without a
// manifest is populated from the bucket; files already present with the same
// content are adopted, differing ones are S3_CONFLICT.
func (p *Provider) OpenOrClone(ctx context.Context) (repo.OpenResult, error) {
	if p.manifest == nil {
		if err := p.open(ctx); err != nil {
			return repo.OpenResult{}, err
		}
	}

	tree, err := repo.ListTree(p.fsys)
	if err != nil {
		return repo.OpenResult{}, err
	}
	st, err := p.status(ctx)
	if err != nil {
		return repo.OpenResult{}, err
	}
	return repo.OpenResult{LocalPath: p.fsys.Root(), Tree: tree, Status: st}, nil
}

func (p *Provider) open(ctx context.Context) error {
	const op = "s3.open"

	if p.fsys == nil {
		fsys, err := repo.OpenWorkingCopy(p.settings.LocalPath)
		if err != nil {
			return err
		}
		p.fsys = fsys
	}
	if err := repo.EnsureKind(p.fsys, repo.KindS3); err != nil {
		return err
	}

	if p.client == nil {
		client, err := s3.New(ctx, p.clientOptions()...)
		if err != nil {
			return classify(op, err)
		}
		p.client = client
	}

	if err := p.requireVersioning(ctx); err != nil {
		return err
	}

	m, err := mirror.LoadManifest(p.fsys)
	switch {
	case err == nil:
		if !m.Matches(p.settings.Bucket, p.settings.Prefix) {
			return errors.Newf(errors.CodeRepoProviderMismatch, op,
				"%s mirrors s3://%s/%s, not %s", p.fsys.Root(), m.Bucket, m.Prefix, p.settings.Label())
		}
		p.manifest = m
		p.logger.Debug("opened working copy", "path", p.fsys.Root(), "files", len(m.Files))
		return nil
	case !stderrors.Is(err, os.ErrNotExist):
		return errors.New(errors.CodeUnknown, op, err)
	}

	m = mirror.NewManifest(p.settings.Bucket, p.settings.Prefix)
	if err := p.fetchInto(ctx, m); err != nil {
		return err
	}
	if err := p.pullWith(ctx, m); err != nil {
		return err
	}

	p.manifest = m
	p.logger.Info("downloaded working copy", "path", p.fsys.Root(), "files", len(m.Files))
	return nil
}

func (p *Provider) requireVersioning(ctx context.Context) error {
	const op = "s3.open"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	enabled, err := p.client.VersioningEnabled(ctx, p.settings.Bucket)
	if err != nil {
		return classify(op, err)
	}
	if !enabled {
		return errors.Newf(errors.CodeS3VersioningRequired, op, "bucket %q does not have versioning enabled", p.settings.Bucket)
	}
	return nil
}

// Status implements repo.Provider. It compares the working copy with the
// manifest only; no request is made.
func (p *Provider) Status(ctx context.Context) (repo.Status, error) {
	if err := p.ready("s3.status"); err != nil {
		return repo.Status{}, err
	}
	return p.status(ctx)
}

func (p *Provider) status(ctx context.Context) (repo.Status, error) {
	plan, _, err := p.plan(ctx, p.manifest)
	if err != nil {
		return repo.Status{}, err
	}
	return repo.ComputeStatus(repo.KindS3, repo.Introspection{
		Branch:         p.settings.Label(),
		Ahead:          len(plan.Local),
		Behind:         len(plan.Remote),
		HasUncommitted: len(plan.Local) > 0,
		PendingPush:    len(plan.Local),
	}), nil
}

func (p *Provider) plan(ctx context.Context, m *mirror.Manifest) (mirror.Plan, map[string]mirror.LocalFile, error) {
	local, err := mirror.Scan(ctx, p.fsys, repo.GitDir)
	if err != nil {
		return mirror.Plan{}, nil, errors.FromFS("s3.scan", err)
	}
	return mirror.Diff(local, m), local, nil
}

// Fetch implements repo.Provider. The listing is stored in the manifest; the
// working copy is not touched.
func (p *Provider) Fetch(ctx context.Context) (repo.Status, error) {
	if err := p.ready("s3.fetch"); err != nil {
		return repo.Status{}, err
	}
	if err := p.fetchInto(ctx, p.manifest); err != nil {
		return repo.Status{}, err
	}
	if err := p.save(p.manifest); err != nil {
		return repo.Status{}, err
	}
	return p.status(ctx)
}

func (p *Provider) fetchInto(ctx context.Context, m *mirror.Manifest) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	objects, err := p.client.List(ctx, p.settings.Bucket, m.Prefix)
	if err != nil {
		return classify("s3.fetch", err)
	}
	m.SetRemote(objects, p.now())
	return nil
}

// Pull implements repo.Provider. It fetches, then downloads remotely added or
// modified objects and removes files deleted remotely. If any of those paths
// also changed locally the pull is S3_CONFLICT and nothing is written.
func (p *Provider) Pull(ctx context.Context) error {
	if err := p.ready("s3.pull"); err != nil {
		return err
	}
	if err := p.fetchInto(ctx, p.manifest); err != nil {
		return err
	}
	return p.pullWith(ctx, p.manifest)
}

type download struct {
	path  string
	entry mirror.Entry
}

func (p *Provider) pullWith(ctx context.Context, m *mirror.Manifest) error {
	const op = "s3.pull"

	plan, local, err := p.plan(ctx, m)
	if err != nil {
		return err
	}
	if plan.HasConflicts() {
		return errors.Newf(errors.CodeS3Conflict, op, "changed locally and remotely: %v", plan.Conflicts)
	}

	adopt(m, plan.Converged, local)

	for _, change := range plan.Remote {
		if change.Kind != mirror.Deleted {
			continue
		}
		if err := p.fsys.Remove(change.Path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
			return errors.FromFS(op, err)
		}
		m.Forget(change.Path)
	}

	var (
		mu        sync.Mutex
		completed []download
	)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, change := range plan.Remote {
		if change.Kind == mirror.Deleted {
			continue
		}

		g.Go(func() error {
			obj, err := p.client.Get(gctx, p.settings.Bucket, mirror.KeyFor(m.Prefix, change.Path))
			if err != nil {
				return classify(op, err)
			}
			if err := p.fsys.WriteFileAtomic(change.Path, obj.Body, 0o644); err != nil {
				return errors.FromFS(op, err)
			}
			sha, _ := mirror.Digest(obj.Body)

			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, download{
				path: change.Path,
				entry: mirror.Entry{
					SHA256:    sha,
					ETag:      obj.ETag,
					VersionID: obj.VersionID,
					Size:      int64(len(obj.Body)),
				},
			})
			return nil
		})
	}

	err = g.Wait()
	for _, d := range completed {
		m.Record(d.path, d.entry)
	}
	if err == nil {
		m.SyncedAt = p.now()
	}
	if saveErr := p.save(m); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return err
	}

	if len(plan.Remote) > 0 {
		p.logger.Info("pulled", "changes", len(plan.Remote))
	}
	return nil
}

// adopt records paths that ended up identical on both sides as synced.
func adopt(m *mirror.Manifest, paths []string, local map[string]mirror.LocalFile) {
	for _, path := range paths {
		f, ok := local[path]
		if !ok {
			m.Forget(path)
			continue
		}
		m.Record(path, mirror.Entry{SHA256: f.SHA256, ETag: m.Remote[path].ETag, Size: f.Size})
	}
}

// Push implements repo.Provider. Added files are uploaded only if the key does
// not exist, modified files only if the object still has the baseline ETag
// and deleted files only if the object is unchanged. A failed condition is
// S3_SYNC_FAILED; the files that did go through stay recorded.
func (p *Provider) Push(ctx context.Context) error {
	const op = "s3.push"

	if err := p.ready(op); err != nil {
		return err
	}
	m := p.manifest

	plan, local, err := p.plan(ctx, m)
	if err != nil {
		return err
	}
	if plan.HasConflicts() {
		return errors.Newf(errors.CodeS3SyncFailed, op, "remote changed since the last sync, pull first: %v", plan.Conflicts)
	}
	if len(plan.Local) == 0 {
		if len(plan.Converged) > 0 {
			adopt(m, plan.Converged, local)
			return p.save(m)
		}
		return nil
	}
	adopt(m, plan.Converged, local)

	type result struct {
		path    string
		entry   mirror.Entry
		deleted bool
	}
	var (
		mu      sync.Mutex
		results []result
	)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, change := range plan.Local {
		key := mirror.KeyFor(m.Prefix, change.Path)
		base := m.Files[change.Path]

		g.Go(func() error {
			var r result
			if change.Kind == mirror.Deleted {
				if err := p.deleteIfUnchanged(gctx, key, base.ETag); err != nil {
					return err
				}
				r = result{path: change.Path, deleted: true}
			} else {
				data, err := p.fsys.ReadFile(change.Path)
				if err != nil {
					return errors.FromFS(op, err)
				}
				opts := s3.PutOptions{IfNoneMatch: change.Kind == mirror.Added}
				if change.Kind == mirror.Modified {
					opts.IfMatch = base.ETag
				}
				out, err := p.client.Put(gctx, p.settings.Bucket, key, data, opts)
				if err != nil {
					return classify(op, err)
				}
				sha, _ := mirror.Digest(data)
				r = result{path: change.Path, entry: mirror.Entry{
					SHA256:    sha,
					ETag:      out.ETag,
					VersionID: out.VersionID,
					Size:      int64(len(data)),
				}}
			}

			mu.Lock()
			defer mu.Unlock()
			results = append(results, r)
			return nil
		})
	}

	err = g.Wait()
	for _, r := range results {
		if r.deleted {
			m.Forget(r.path)
		} else {
			m.Record(r.path, r.entry)
		}
	}
	if err == nil {
		m.SyncedAt = p.now()
	}
	if saveErr := p.save(m); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return err
	}

	p.logger.Info("pushed", "changes", len(plan.Local))
	return nil
}

func (p *Provider) deleteIfUnchanged(ctx context.Context, key, etag string) error {
	const op = "s3.push"

	head, err := p.client.Head(ctx, p.settings.Bucket, key)
	switch {
	case s3errors.IsObjectNotFound(err):
		return nil
	case err != nil:
		return classify(op, err)
	case head.ETag != etag:
		return errors.Newf(errors.CodeS3SyncFailed, op, "%s changed remotely since the last sync", key)
	}

	if err := p.client.Delete(ctx, p.settings.Bucket, key); err != nil {
		return classify(op, err)
	}
	return nil
}

// Commit implements repo.Provider. S3 has no commits; the result reports how
// many of paths are waiting to be uploaded.
func (p *Provider) Commit(ctx context.Context, paths []string, _ string) (repo.CommitResult, error) {
	if err := p.ready("s3.commit"); err != nil {
		return repo.CommitResult{}, err
	}

	want := make(map[string]struct{}, len(paths))
	for _, raw := range paths {
		clean, err := repo.CleanPath(raw)
		if err != nil {
			return repo.CommitResult{}, err
		}
		want[clean] = struct{}{}
	}

	plan, _, err := p.plan(ctx, p.manifest)
	if err != nil {
		return repo.CommitResult{}, err
	}
	pending := 0
	for _, c := range plan.Local {
		if _, ok := want[c.Path]; ok {
			pending++
		}
	}
	return pendingResult(pending), nil
}

// CommitAll implements repo.Provider with the number of files waiting to be
// uploaded.
func (p *Provider) CommitAll(ctx context.Context, _ string) (repo.CommitResult, error) {
	if err := p.ready("s3.commit"); err != nil {
		return repo.CommitResult{}, err
	}
	plan, _, err := p.plan(ctx, p.manifest)
	if err != nil {
		return repo.CommitResult{}, err
	}
	return pendingResult(len(plan.Local)), nil
}

func pendingResult(n int) repo.CommitResult {
	if n == 0 {
		return repo.NothingToCommit()
	}
	return repo.CommitResult{Message: fmt.Sprintf("%d file(s) pending upload", n), Committed: true}
}

// WriteFile implements repo.Provider.
func (p *Provider) WriteFile(_ context.Context, path string, content []byte) error {
	if err := p.ready("files.write"); err != nil {
		return err
	}
	return repo.WriteWorkingFile(p.fsys, path, content)
}

// ReadFile implements repo.Provider.
func (p *Provider) ReadFile(_ context.Context, path string) ([]byte, error) {
	if err := p.ready("files.read"); err != nil {
		return nil, err
	}
	return repo.ReadWorkingFile(p.fsys, path)
}

// History implements repo.Provider with the object versions of path. Delete
// markers are listed with the message "deleted".
func (p *Provider) History(ctx context.Context, path string, limit int) ([]repo.Revision, error) {
	const op = "s3.history"

	if err := p.ready(op); err != nil {
		return nil, err
	}
	clean, err := repo.CleanPath(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	versions, err := p.client.Versions(ctx, p.settings.Bucket, mirror.KeyFor(p.manifest.Prefix, clean), limit)
	if err != nil {
		return nil, classify(op, err)
	}

	revs := make([]repo.Revision, 0, len(versions))
	for _, v := range versions {
		rev := repo.Revision{ID: v.VersionID, When: v.LastModified, Size: v.Size}
		if v.DeleteMarker {
			rev.Message = "deleted"
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

// Close implements repo.Provider.
func (p *Provider) Close() error {
	p.manifest = nil
	return nil
}

func (p *Provider) save(m *mirror.Manifest) error {
	if err := m.Save(p.fsys); err != nil {
		return errors.FromFS("s3.manifest", err)
	}
	return nil
}

func (p *Provider) ready(op string) error {
	if p.manifest == nil {
		return errors.Newf(errors.CodeRepoNotInitialized, op, "working copy is not open")
	}
	return nil
}

// classify maps client failures onto S3_AUTH_FAILED or S3_SYNC_FAILED.
func classify(op string, err error) error {
	if s3errors.IsAuth(err) {
		return errors.New(errors.CodeS3AuthFailed, op, err)
	}
	return errors.Wrap(errors.CodeS3SyncFailed, op, err)
}
