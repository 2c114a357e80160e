// Package errors defines the stable error taxonomy of the synchronization engine.
// Every failure that crosses the command surface carries one of these codes so
// callers can branch on it without parsing messages.
package errors

// ErrorCode identifies a failure class. Codes are string-based for debuggability
// and natural JSON serialization.
type ErrorCode string

const (
	// Authentication errors.

	// CodeGitAuthFailed indicates the Git remote rejected the configured credentials.
	CodeGitAuthFailed ErrorCode = "GIT_AUTH_FAILED"

	// CodeS3AuthFailed indicates the S3 endpoint rejected the configured credentials.
	CodeS3AuthFailed ErrorCode = "S3_AUTH_FAILED"

	// Remote synchronization errors.

	// CodeGitCloneFailed indicates the initial clone of a Git remote failed.
	CodeGitCloneFailed ErrorCode = "GIT_CLONE_FAILED"

	// CodeGitPullFailed indicates a fetch or fast-forward from the Git remote failed.
	CodeGitPullFailed ErrorCode = "GIT_PULL_FAILED"

	// CodeGitPushFailed indicates the Git remote refused or could not receive a push.
	CodeGitPushFailed ErrorCode = "GIT_PUSH_FAILED"

	// CodeS3SyncFailed indicates a list, download or upload against the bucket failed.
	CodeS3SyncFailed ErrorCode = "S3_SYNC_FAILED"

	// CodeS3VersioningRequired indicates the bucket does not have versioning enabled.
	CodeS3VersioningRequired ErrorCode = "S3_VERSIONING_REQUIRED"

	// Conflict errors.

	// CodeGitConflict indicates local and remote history diverged.
	CodeGitConflict ErrorCode = "GIT_CONFLICT"

	// CodeS3Conflict indicates an object changed remotely while it was also modified locally.
	CodeS3Conflict ErrorCode = "S3_CONFLICT"

	// Repository state errors.

	// CodeRepoNotInitialized indicates an operation ran before the working copy was opened.
	CodeRepoNotInitialized ErrorCode = "REPO_NOT_INITIALIZED"

	// CodeRepoProviderMismatch indicates the local path holds another provider's working copy.
	CodeRepoProviderMismatch ErrorCode = "REPO_PROVIDER_MISMATCH"

	// Filesystem errors.

	// CodeFSNotFound indicates a working-copy file or directory does not exist.
	CodeFSNotFound ErrorCode = "FS_NOT_FOUND"

	// CodeFSPermissionDenied indicates the process may not read or write the path.
	CodeFSPermissionDenied ErrorCode = "FS_PERMISSION_DENIED"

	// Credential errors.

	// CodeSecretUnavailable indicates a credential reference could not be resolved.
	CodeSecretUnavailable ErrorCode = "SECRET_UNAVAILABLE"

	// Validation errors.

	// CodeValidation indicates invalid settings, arguments or paths.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// Generic errors.

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)
