package repo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
)

func gitSettings() repo.Settings {
	return repo.Settings{
		Provider: repo.KindGit,
		Git:      &repo.GitSettings{RemoteURL: "https://example.com/notes.git", LocalPath: "/tmp/notes"},
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*repo.Settings)
		ok     bool
	}{
		{name: "valid git", mutate: func(*repo.Settings) {}, ok: true},
		{
			name: "variant mismatch",
			mutate: func(s *repo.Settings) {
				s.Provider = repo.KindS3
			},
		},
		{
			name: "two variants",
			mutate: func(s *repo.Settings) {
				s.Local = &repo.LocalSettings{LocalPath: "/tmp/x"}
			},
		},
		{
			name: "missing remote",
			mutate: func(s *repo.Settings) {
				s.Git.RemoteURL = ""
			},
		},
		{
			name: "pat method without token",
			mutate: func(s *repo.Settings) {
				s.Git.AuthMethod = repo.AuthPAT
			},
		},
		{
			name: "unknown auth method",
			mutate: func(s *repo.Settings) {
				s.Git.AuthMethod = "kerberos"
			},
		},
		{
			name: "enabled autosync without interval",
			mutate: func(s *repo.Settings) {
				s.AutoSync = repo.Interval{Enabled: true}
			},
		},
		{
			name: "negative autosave interval",
			mutate: func(s *repo.Settings) {
				s.Autosave = repo.Interval{IntervalSec: -1}
			},
		},
		{
			name: "valid s3",
			mutate: func(s *repo.Settings) {
				s.Provider, s.Git = repo.KindS3, nil
				s.S3 = &repo.S3Settings{Bucket: "notes", LocalPath: "/tmp/s3"}
			},
			ok: true,
		},
		{
			name: "s3 half credentials",
			mutate: func(s *repo.Settings) {
				s.Provider, s.Git = repo.KindS3, nil
				s.S3 = &repo.S3Settings{Bucket: "notes", LocalPath: "/tmp/s3", AccessKeyID: "AKIA"}
			},
		},
		{
			name: "local without path",
			mutate: func(s *repo.Settings) {
				s.Provider, s.Git = repo.KindLocal, nil
				s.Local = &repo.LocalSettings{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := gitSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
		})
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := gitSettings()
	assert.Equal(t, repo.DefaultTimeout, s.Timeout())
	assert.Equal(t, "/tmp/notes", s.LocalPath())
	assert.Equal(t, repo.DefaultBranch, s.Git.EffectiveBranch())
	assert.Equal(t, repo.AuthNone, s.Git.EffectiveAuth())

	s.Git.PAT = "ghp_x"
	assert.Equal(t, repo.AuthPAT, s.Git.EffectiveAuth())

	s.TimeoutSec = 5
	assert.Equal(t, 5*time.Second, s.Timeout())

	s3 := repo.S3Settings{Bucket: "b", Prefix: "/vault/"}
	assert.Equal(t, "b/vault", s3.Label())
}
