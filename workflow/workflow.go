// Package workflow implements the conflict-safe save: fetch, pull when
// behind, write, commit and push, all under the profile's write lock.
//
// Remote failures never lose the caller's content. They are reported as flags
// on the Result; only a failed local write is returned as an error.
package workflow

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
)

// TracerName is the instrumentation scope of the save spans.
const TracerName = "github.com/notesync/notesync/workflow"

// SpanName is the name of the span emitted for every save.
const SpanName = "workflow.save"

// Result reports what happened to the remote side of a save. The flags are
// independent; all false means the content was written, committed and pushed.
type Result struct {
	PullFailed       bool `json:"pullFailed"`
	PushFailed       bool `json:"pushFailed"`
	ConflictDetected bool `json:"conflictDetected"`
}

// Workflow runs saves against one provider.
type Workflow struct {
	provider repo.Provider
	guard    *repo.Guard
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// WithTracer sets the tracer. The global provider's tracer is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Workflow) {
		w.tracer = tracer
	}
}

// New returns a workflow that serializes on guard.
func New(provider repo.Provider, guard *repo.Guard, opts ...Option) *Workflow {
	w := &Workflow{
		provider: provider,
		guard:    guard,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer(TracerName)
	}
	return w
}

// CommitMessage is the message a save records for path.
func CommitMessage(path string, autosave bool) string {
	if autosave {
		return "Autosave " + path
	}
	return "Update " + path
}

// Save writes content to path and synchronizes it:
//
//  1. Fetch. A failure sets PullFailed and skips step 2.
//  2. Pull if the remote is ahead. A conflict sets ConflictDetected and skips
//     step 4; any other failure sets PullFailed.
//  3. Write the file. This always happens and is the only hard error.
//  4. Commit everything, then push if the commit recorded something or
//     earlier commits are still unpushed. A failure sets PushFailed.
//
// Nothing is retried within a save.
func (w *Workflow) Save(ctx context.Context, path string, content []byte, autosave bool) (Result, error) {
	ctx, span := w.tracer.Start(ctx, SpanName, trace.WithAttributes(
		attribute.String("notesync.provider", string(w.provider.Kind())),
		attribute.String("notesync.path", path),
		attribute.Bool("notesync.autosave", autosave),
	))
	defer span.End()

	var res Result
	err := w.guard.Write(func() error {
		var err error
		res, err = w.save(ctx, path, content, autosave)
		return err
	})

	span.SetAttributes(
		attribute.Bool("notesync.pull_failed", res.PullFailed),
		attribute.Bool("notesync.push_failed", res.PushFailed),
		attribute.Bool("notesync.conflict_detected", res.ConflictDetected),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.CodeOf(err)))
	}
	return res, err
}

func (w *Workflow) save(ctx context.Context, path string, content []byte, autosave bool) (Result, error) {
	var res Result
	logger := w.logger.With("path", path)

	st, err := w.provider.Fetch(ctx)
	if err != nil {
		res.PullFailed = true
		logger.Warn("fetch failed", "code", errors.CodeOf(err), "error", err)
	} else if st.NeedsPull {
		switch err := w.provider.Pull(ctx); {
		case err == nil:
		case errors.IsConflict(err):
			res.ConflictDetected = true
			logger.Warn("remote changes conflict with local ones", "code", errors.CodeOf(err))
		default:
			res.PullFailed = true
			logger.Warn("pull failed", "code", errors.CodeOf(err), "error", err)
		}
	}

	if err := w.provider.WriteFile(ctx, path, content); err != nil {
		return res, err
	}

	if res.ConflictDetected {
		return res, nil
	}

	commit, err := w.provider.CommitAll(ctx, CommitMessage(path, autosave))
	if err != nil {
		// the content is on disk; a commit that cannot be recorded is a failed sync
		res.PushFailed = true
		logger.Warn("commit failed", "code", errors.CodeOf(err), "error", err)
		return res, nil
	}

	if !commit.Committed {
		st, err := w.provider.Status(ctx)
		if err != nil || st.PendingPushCount == 0 {
			return res, nil
		}
	}

	if err := w.provider.Push(ctx); err != nil {
		res.PushFailed = true
		logger.Warn("push failed", "code", errors.CodeOf(err), "error", err)
	}
	return res, nil
}
