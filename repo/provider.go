package repo

import (
	"context"
	"time"
)

// NothingToCommitMessage is the Message of a CommitResult that created nothing.
const NothingToCommitMessage = "Nothing to commit"

// CommitResult describes a commit attempt. Committed is false, and Message is
// NothingToCommitMessage, when there was nothing to record.
type CommitResult struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Committed bool   `json:"committed"`
}

// NothingToCommit returns the result for an empty commit attempt.
func NothingToCommit() CommitResult {
	return CommitResult{Message: NothingToCommitMessage}
}

// TreeEntry is one file or directory of the working copy.
type TreeEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

// OpenResult is returned by OpenOrClone.
type OpenResult struct {
	LocalPath string      `json:"localPath"`
	Tree      []TreeEntry `json:"tree"`
	Status    Status      `json:"status"`
}

// Revision is one historical state of a file: a Git commit touching it or an
// S3 object version.
type Revision struct {
	ID      string    `json:"id"`
	Message string    `json:"message,omitempty"`
	Author  string    `json:"author,omitempty"`
	When    time.Time `json:"when"`
	Size    int64     `json:"size"`
}

// Provider synchronizes one working copy with its remote. Every method other
// than Kind and Close fails with REPO_NOT_INITIALIZED until OpenOrClone has
// succeeded. Implementations are not safe for concurrent mutation; callers
// serialize through a Guard.
type Provider interface {
	Kind() Kind

	// OpenOrClone opens an existing working copy or materializes one from the
	// remote. It is idempotent.
	OpenOrClone(ctx context.Context) (OpenResult, error)

	// Status is read-only and performs no network I/O.
	Status(ctx context.Context) (Status, error)

	// Fetch refreshes the remote tip without touching the working copy.
	Fetch(ctx context.Context) (Status, error)

	// Pull applies remote changes. A conflicting pull leaves the working copy
	// untouched.
	Pull(ctx context.Context) error

	Push(ctx context.Context) error

	Commit(ctx context.Context, paths []string, message string) (CommitResult, error)
	CommitAll(ctx context.Context, message string) (CommitResult, error)

	// WriteFile and ReadFile take slash-separated paths relative to the root.
	WriteFile(ctx context.Context, path string, content []byte) error
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// History lists revisions of path, newest first. limit <= 0 means all.
	History(ctx context.Context, path string, limit int) ([]Revision, error)

	Close() error
}

// UnsavedTracker is implemented by providers whose uncommitted state comes
// from the editor rather than the working copy.
type UnsavedTracker interface {
	MarkUnsaved(path string, unsaved bool)
}
