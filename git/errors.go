package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Sentinel errors that can be checked with errors.Is().
// These wrap underlying go-git errors while providing a stable API for consumers.

// ErrAlreadyUpToDate is returned when fetch, fast-forward or push had nothing to do.
var ErrAlreadyUpToDate = errors.New("already up to date")

// ErrAuthRequired is returned when the remote demands credentials that were not configured.
var ErrAuthRequired = errors.New("authentication required")

// ErrAuthFailed is returned when the remote rejected the configured credentials.
var ErrAuthFailed = errors.New("authentication failed")

// ErrNotFastForward is returned when local and remote history diverged, so
// neither a fast-forward nor a plain push is possible.
var ErrNotFastForward = errors.New("not a fast-forward")

// ErrMergeConflict is returned when a fast-forward would overwrite local
// changes that are not committed.
var ErrMergeConflict = errors.New("merge conflict")

// ErrInvalidRef is returned for malformed arguments and options.
var ErrInvalidRef = errors.New("invalid reference")

// ErrResolveFailed is returned when a remote or reference cannot be found.
var ErrResolveFailed = errors.New("cannot resolve revision")

// ErrEmptyCommit is returned when a commit would record no changes.
var ErrEmptyCommit = errors.New("nothing to commit")

// ErrNotRepository is returned by Open when the workdir holds no repository.
var ErrNotRepository = errors.New("not a git repository")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// transportError maps go-git transport failures onto the package sentinels.
// The original error stays in the chain for logging.
func transportError(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		return ErrAlreadyUpToDate
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return fmt.Errorf("%s: %w: %w", msg, ErrAuthRequired, err)
	case errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod),
		isSSHAuthFailure(err):
		return fmt.Errorf("%s: %w: %w", msg, ErrAuthFailed, err)
	case errors.Is(err, git.ErrNonFastForwardUpdate), isRejectedPush(err):
		return fmt.Errorf("%s: %w: %w", msg, ErrNotFastForward, err)
	case errors.Is(err, git.ErrRemoteNotFound), errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("%s: %w: %w", msg, ErrResolveFailed, err)
	default:
		return WrapError(err, msg)
	}
}

// isSSHAuthFailure recognizes the handshake error x/crypto/ssh returns when
// every offered key was refused. It has no exported sentinel.
func isSSHAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// isRejectedPush recognizes a remote-side refusal reported through the
// receive-pack status, for example "non-fast-forward update".
func isRejectedPush(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "fetch first")
}
