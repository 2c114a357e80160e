package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
)

// Error is a classified failure. Op names the engine operation that failed
// (for example "git.push" or "s3.open") and Err holds the underlying cause.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

// New builds a classified error.
func New(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Newf builds a classified error with a formatted message as its cause.
func Newf(code ErrorCode, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, &Error{Code: CodeGitConflict}) matches any conflict failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// Code-only sentinels for use with errors.Is.
var (
	ErrNotInitialized     = &Error{Code: CodeRepoNotInitialized}
	ErrProviderMismatch   = &Error{Code: CodeRepoProviderMismatch}
	ErrValidation         = &Error{Code: CodeValidation}
	ErrNotFound           = &Error{Code: CodeFSNotFound}
	ErrPermissionDenied   = &Error{Code: CodeFSPermissionDenied}
	ErrGitConflict        = &Error{Code: CodeGitConflict}
	ErrS3Conflict         = &Error{Code: CodeS3Conflict}
	ErrVersioningRequired = &Error{Code: CodeS3VersioningRequired}
)

// CodeOf extracts the code of the first classified error in err's chain.
// It returns "" for nil and CodeUnknown when nothing in the chain is classified.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsConflict reports whether err is a Git or S3 conflict.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeGitConflict, CodeS3Conflict:
		return true
	}
	return false
}

// IsAuth reports whether err is an authentication failure for any provider.
func IsAuth(err error) bool {
	switch CodeOf(err) {
	case CodeGitAuthFailed, CodeS3AuthFailed:
		return true
	}
	return false
}

// FromFS classifies a filesystem error. Errors that are already classified
// pass through unchanged; anything else becomes CodeUnknown.
func FromFS(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return New(CodeFSNotFound, op, err)
	case stderrors.Is(err, fs.ErrPermission), os.IsPermission(err):
		return New(CodeFSPermissionDenied, op, err)
	default:
		return New(CodeUnknown, op, err)
	}
}

// Wrap classifies err under code unless it already carries a code.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	return New(code, op, err)
}
