package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/repo/repotest"
	"github.com/notesync/notesync/workflow"
)

var (
	errNetwork  = errors.Newf(errors.CodeGitPullFailed, "git.fetch", "connection refused")
	errConflict = errors.Newf(errors.CodeGitConflict, "git.pull", "diverged")
	errPush     = errors.Newf(errors.CodeGitPushFailed, "git.push", "rejected")
)

func newWorkflow(p repo.Provider, opts ...workflow.Option) *workflow.Workflow {
	return workflow.New(p, &repo.Guard{}, opts...)
}

func TestSave(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *repotest.Provider)
		want    workflow.Result
		calls   []string
		pending int
	}{
		{
			name:    "up to date",
			calls:   []string{repotest.OpFetch, repotest.OpWrite, repotest.OpCommitAll, repotest.OpPush},
			pending: 0,
		},
		{
			name:  "behind pulls first",
			setup: func(p *repotest.Provider) { p.SetBehind(2) },
			calls: []string{repotest.OpFetch, repotest.OpPull, repotest.OpWrite, repotest.OpCommitAll, repotest.OpPush},
		},
		{
			name: "fetch failure skips pull",
			setup: func(p *repotest.Provider) {
				p.SetBehind(1)
				p.FailOn(repotest.OpFetch, errNetwork)
			},
			want:  workflow.Result{PullFailed: true},
			calls: []string{repotest.OpFetch, repotest.OpWrite, repotest.OpCommitAll, repotest.OpPush},
		},
		{
			name: "conflict skips commit and push",
			setup: func(p *repotest.Provider) {
				p.SetBehind(1)
				p.FailOn(repotest.OpPull, errConflict)
			},
			want:  workflow.Result{ConflictDetected: true},
			calls: []string{repotest.OpFetch, repotest.OpPull, repotest.OpWrite},
		},
		{
			name: "s3 conflict is a conflict too",
			setup: func(p *repotest.Provider) {
				p.SetBehind(1)
				p.FailOn(repotest.OpPull, errors.Newf(errors.CodeS3Conflict, "s3.pull", "changed on both sides"))
			},
			want:  workflow.Result{ConflictDetected: true},
			calls: []string{repotest.OpFetch, repotest.OpPull, repotest.OpWrite},
		},
		{
			name: "other pull failure still pushes",
			setup: func(p *repotest.Provider) {
				p.SetBehind(1)
				p.FailOn(repotest.OpPull, errNetwork)
			},
			want:  workflow.Result{PullFailed: true},
			calls: []string{repotest.OpFetch, repotest.OpPull, repotest.OpWrite, repotest.OpCommitAll, repotest.OpPush},
		},
		{
			name:    "push failure keeps the commit pending",
			setup:   func(p *repotest.Provider) { p.FailOn(repotest.OpPush, errPush) },
			want:    workflow.Result{PushFailed: true},
			calls:   []string{repotest.OpFetch, repotest.OpWrite, repotest.OpCommitAll, repotest.OpPush},
			pending: 1,
		},
		{
			name: "fetch and push both fail",
			setup: func(p *repotest.Provider) {
				p.FailOn(repotest.OpFetch, errNetwork)
				p.FailOn(repotest.OpPush, errPush)
			},
			want:    workflow.Result{PullFailed: true, PushFailed: true},
			calls:   []string{repotest.OpFetch, repotest.OpWrite, repotest.OpCommitAll, repotest.OpPush},
			pending: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := repotest.New(repo.KindGit)
			if tt.setup != nil {
				tt.setup(p)
			}

			res, err := newWorkflow(p).Save(context.Background(), "notes/a.md", []byte("# A"), false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			assert.Equal(t, tt.calls, p.Calls())
			assert.Equal(t, tt.pending, p.Pending())

			data, ok := p.File("notes/a.md")
			require.True(t, ok)
			assert.Equal(t, "# A", string(data))
		})
	}
}

func TestSaveWithoutChangesSkipsPush(t *testing.T) {
	ctx := context.Background()
	p := repotest.New(repo.KindGit)
	w := newWorkflow(p)

	_, err := w.Save(ctx, "a.md", []byte("same"), false)
	require.NoError(t, err)
	p.ResetCalls()

	res, err := w.Save(ctx, "a.md", []byte("same"), false)
	require.NoError(t, err)
	assert.Equal(t, workflow.Result{}, res)
	assert.Equal(t, []string{repotest.OpFetch, repotest.OpWrite, repotest.OpCommitAll, repotest.OpStatus}, p.Calls())
}

func TestSaveRetriesEarlierUnpushedCommits(t *testing.T) {
	ctx := context.Background()
	p := repotest.New(repo.KindGit)
	w := newWorkflow(p)

	p.FailOn(repotest.OpPush, errPush)
	res, err := w.Save(ctx, "a.md", []byte("v1"), false)
	require.NoError(t, err)
	assert.True(t, res.PushFailed)
	assert.Equal(t, 1, p.Pending())

	p.FailOn(repotest.OpPush, nil)
	res, err = w.Save(ctx, "a.md", []byte("v1"), true)
	require.NoError(t, err)
	assert.Equal(t, workflow.Result{}, res)
	assert.Equal(t, 0, p.Pending())
}

func TestSaveWriteFailureIsHardError(t *testing.T) {
	p := repotest.New(repo.KindGit)

	_, err := newWorkflow(p).Save(context.Background(), "../escape.md", []byte("x"), false)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Zero(t, p.Count(repotest.OpCommitAll))
	assert.Zero(t, p.Count(repotest.OpPush))
}

func TestSaveCommitFailureIsReportedAsPushFailure(t *testing.T) {
	p := repotest.New(repo.KindGit)
	p.FailOn(repotest.OpCommitAll, errors.Newf(errors.CodeUnknown, "git.commit", "index locked"))

	res, err := newWorkflow(p).Save(context.Background(), "a.md", []byte("x"), false)
	require.NoError(t, err)
	assert.Equal(t, workflow.Result{PushFailed: true}, res)
	assert.Zero(t, p.Count(repotest.OpPush))
}

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "Update notes/a.md", workflow.CommitMessage("notes/a.md", false))
	assert.Equal(t, "Autosave notes/a.md", workflow.CommitMessage("notes/a.md", true))
}

func TestSaveSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := repotest.New(repo.KindS3)
	p.FailOn(repotest.OpPush, errPush)
	_, err := newWorkflow(p, workflow.WithTracer(tp.Tracer("test"))).Save(context.Background(), "a.md", []byte("x"), true)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, workflow.SpanName, span.Name())

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "s3", attrs["notesync.provider"].AsString())
	assert.True(t, attrs["notesync.autosave"].AsBool())
	assert.True(t, attrs["notesync.push_failed"].AsBool())
	assert.False(t, attrs["notesync.pull_failed"].AsBool())
	assert.False(t, attrs["notesync.conflict_detected"].AsBool())
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestSaveSpanRecordsWriteFailure(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := repotest.New(repo.KindGit)
	p.FailOn(repotest.OpWrite, errors.Newf(errors.CodeFSPermissionDenied, "files.write", "read-only"))
	_, err := newWorkflow(p, workflow.WithTracer(tp.Tracer("test"))).Save(context.Background(), "a.md", []byte("x"), false)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, string(errors.CodeFSPermissionDenied), spans[0].Status().Description)
}

func TestSaveAlwaysWritesContent(t *testing.T) {
	failures := []string{repotest.OpFetch, repotest.OpPull, repotest.OpCommitAll, repotest.OpPush}

	rapid.Check(t, func(t *rapid.T) {
		p := repotest.New(repo.KindGit)
		p.SetBehind(rapid.IntRange(0, 3).Draw(t, "behind"))
		p.SetPending(rapid.IntRange(0, 3).Draw(t, "pending"))
		for _, op := range failures {
			if rapid.Bool().Draw(t, "fail "+op) {
				err := errNetwork
				if op == repotest.OpPull && rapid.Bool().Draw(t, "conflict") {
					err = errConflict
				}
				p.FailOn(op, err)
			}
		}
		content := rapid.SliceOf(rapid.Byte()).Draw(t, "content")

		res, err := newWorkflow(p).Save(context.Background(), "note.md", content, rapid.Bool().Draw(t, "autosave"))
		if err != nil {
			t.Fatalf("save returned %v", err)
		}

		data, ok := p.File("note.md")
		if !ok || string(data) != string(content) {
			t.Fatalf("content not on disk after %+v", res)
		}
		if res.ConflictDetected && (p.Count(repotest.OpCommitAll) > 0 || p.Count(repotest.OpPush) > 0) {
			t.Fatalf("synced after a conflict: %v", p.Calls())
		}
		if p.Count(repotest.OpPush) > 1 || p.Count(repotest.OpFetch) != 1 {
			t.Fatalf("retried within one save: %v", p.Calls())
		}
	})
}
