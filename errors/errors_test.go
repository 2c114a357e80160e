package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: stderrors.New("boom"), want: CodeUnknown},
		{name: "classified", err: New(CodeGitPushFailed, "git.push", stderrors.New("rejected")), want: CodeGitPushFailed},
		{
			name: "wrapped classified",
			err:  fmt.Errorf("save: %w", New(CodeS3SyncFailed, "s3.push", nil)),
			want: CodeS3SyncFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("pull: %w", New(CodeGitConflict, "git.pull", stderrors.New("diverged")))

	assert.True(t, stderrors.Is(err, ErrGitConflict))
	assert.False(t, stderrors.Is(err, ErrS3Conflict))
	assert.True(t, IsConflict(err))
	assert.True(t, IsConflict(New(CodeS3Conflict, "s3.pull", nil)))
	assert.False(t, IsConflict(New(CodeGitPullFailed, "git.pull", nil)))
	assert.False(t, IsConflict(nil))
}

func TestIsAuth(t *testing.T) {
	assert.True(t, IsAuth(New(CodeGitAuthFailed, "git.fetch", nil)))
	assert.True(t, IsAuth(New(CodeS3AuthFailed, "s3.fetch", nil)))
	assert.False(t, IsAuth(stderrors.New("x")))
}

func TestFromFS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "not exist", err: fmt.Errorf("open a.md: %w", fs.ErrNotExist), want: CodeFSNotFound},
		{name: "permission", err: &fs.PathError{Op: "open", Path: "a.md", Err: fs.ErrPermission}, want: CodeFSPermissionDenied},
		{name: "other", err: stderrors.New("disk on fire"), want: CodeUnknown},
		{name: "already classified", err: New(CodeValidation, "path", nil), want: CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromFS("files.read", tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.want, CodeOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, FromFS("files.read", nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "GIT_CONFLICT: git.pull: diverged",
		New(CodeGitConflict, "git.pull", stderrors.New("diverged")).Error())
	assert.Equal(t, "VALIDATION_ERROR: bad", New(CodeValidation, "", stderrors.New("bad")).Error())
	assert.Equal(t, "REPO_NOT_INITIALIZED: status", New(CodeRepoNotInitialized, "status", nil).Error())
}
