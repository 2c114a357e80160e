package repo

import (
	"strings"
	"time"

	"github.com/notesync/notesync/errors"
)

const (
	// DefaultTimeout bounds each network call when TimeoutSec is unset.
	DefaultTimeout = 30 * time.Second

	// DefaultBranch is tracked when a Git profile names none.
	DefaultBranch = "main"
)

// AuthMethod selects Git credentials.
type AuthMethod string

const (
	AuthNone AuthMethod = "none"
	AuthPAT  AuthMethod = "pat"
	AuthSSH  AuthMethod = "ssh"
)

// Settings configures one profile's working copy. Exactly the variant named
// by Provider must be set.
type Settings struct {
	Provider Kind           `yaml:"provider" json:"provider" mapstructure:"provider"`
	Git      *GitSettings   `yaml:"git,omitempty" json:"git,omitempty" mapstructure:"git"`
	S3       *S3Settings    `yaml:"s3,omitempty" json:"s3,omitempty" mapstructure:"s3"`
	Local    *LocalSettings `yaml:"local,omitempty" json:"local,omitempty" mapstructure:"local"`

	AutoSync   Interval `yaml:"autoSync" json:"autoSync" mapstructure:"autoSync"`
	Autosave   Interval `yaml:"autosave" json:"autosave" mapstructure:"autosave"`
	TimeoutSec int      `yaml:"timeoutSec,omitempty" json:"timeoutSec,omitempty" mapstructure:"timeoutSec"`
}

// Interval is an enable flag with a period in seconds.
type Interval struct {
	Enabled     bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	IntervalSec int  `yaml:"intervalSec" json:"intervalSec" mapstructure:"intervalSec"`
}

// Duration returns the period.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.IntervalSec) * time.Second
}

// GitSettings configures a Git working copy.
type GitSettings struct {
	RemoteURL        string     `yaml:"remoteUrl" json:"remoteUrl" mapstructure:"remoteUrl"`
	Branch           string     `yaml:"branch,omitempty" json:"branch,omitempty" mapstructure:"branch"`
	LocalPath        string     `yaml:"localPath" json:"localPath" mapstructure:"localPath"`
	PAT              string     `yaml:"pat,omitempty" json:"pat,omitempty" mapstructure:"pat"`
	AuthMethod       AuthMethod `yaml:"authMethod,omitempty" json:"authMethod,omitempty" mapstructure:"authMethod"`
	SSHKeyPath       string     `yaml:"sshKeyPath,omitempty" json:"sshKeyPath,omitempty" mapstructure:"sshKeyPath"`
	SSHKeyPassphrase string     `yaml:"sshKeyPassphrase,omitempty" json:"sshKeyPassphrase,omitempty" mapstructure:"sshKeyPassphrase"`
	AuthorName       string     `yaml:"authorName,omitempty" json:"authorName,omitempty" mapstructure:"authorName"`
	AuthorEmail      string     `yaml:"authorEmail,omitempty" json:"authorEmail,omitempty" mapstructure:"authorEmail"`
}

// EffectiveAuth resolves an unset AuthMethod: a configured PAT implies pat,
// otherwise none.
func (g *GitSettings) EffectiveAuth() AuthMethod {
	if g.AuthMethod != "" {
		return g.AuthMethod
	}
	if g.PAT != "" {
		return AuthPAT
	}
	return AuthNone
}

// EffectiveBranch returns Branch or DefaultBranch.
func (g *GitSettings) EffectiveBranch() string {
	if g.Branch == "" {
		return DefaultBranch
	}
	return g.Branch
}

// S3Settings configures a working copy mirrored to a bucket prefix.
type S3Settings struct {
	Bucket          string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty" mapstructure:"region"`
	Prefix          string `yaml:"prefix,omitempty" json:"prefix,omitempty" mapstructure:"prefix"`
	LocalPath       string `yaml:"localPath" json:"localPath" mapstructure:"localPath"`
	AccessKeyID     string `yaml:"accessKeyId,omitempty" json:"accessKeyId,omitempty" mapstructure:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty" json:"secretAccessKey,omitempty" mapstructure:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken,omitempty" json:"sessionToken,omitempty" mapstructure:"sessionToken"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool   `yaml:"forcePathStyle,omitempty" json:"forcePathStyle,omitempty" mapstructure:"forcePathStyle"`
}

// Label is the status branch label, "bucket" or "bucket/prefix".
func (s *S3Settings) Label() string {
	prefix := strings.Trim(s.Prefix, "/")
	if prefix == "" {
		return s.Bucket
	}
	return s.Bucket + "/" + prefix
}

// LocalSettings configures a plain folder.
type LocalSettings struct {
	LocalPath string `yaml:"localPath" json:"localPath" mapstructure:"localPath"`
}

// LocalPath returns the working copy location of whichever variant is set.
func (s Settings) LocalPath() string {
	switch s.Provider {
	case KindGit:
		if s.Git != nil {
			return s.Git.LocalPath
		}
	case KindS3:
		if s.S3 != nil {
			return s.S3.LocalPath
		}
	case KindLocal:
		if s.Local != nil {
			return s.Local.LocalPath
		}
	}
	return ""
}

// Timeout returns the per-call network timeout.
func (s Settings) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return DefaultTimeout
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// Validate checks that the variant matches Provider, required fields are
// present and enabled intervals are positive.
func (s Settings) Validate() error {
	const op = "settings.validate"

	variants := 0
	for _, set := range []bool{s.Git != nil, s.S3 != nil, s.Local != nil} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return errors.Newf(errors.CodeValidation, op, "exactly one provider variant must be set, found %d", variants)
	}

	switch s.Provider {
	case KindGit:
		if s.Git == nil {
			return mismatch(op, s.Provider)
		}
		if err := s.Git.validate(op); err != nil {
			return err
		}
	case KindS3:
		if s.S3 == nil {
			return mismatch(op, s.Provider)
		}
		if err := s.S3.validate(op); err != nil {
			return err
		}
	case KindLocal:
		if s.Local == nil {
			return mismatch(op, s.Provider)
		}
		if strings.TrimSpace(s.Local.LocalPath) == "" {
			return required(op, "local.localPath")
		}
	default:
		return errors.Newf(errors.CodeValidation, op, "unknown provider %q", s.Provider)
	}

	if s.AutoSync.Enabled && s.AutoSync.IntervalSec <= 0 {
		return errors.Newf(errors.CodeValidation, op, "autoSync.intervalSec must be positive, got %d", s.AutoSync.IntervalSec)
	}
	if s.Autosave.Enabled && s.Autosave.IntervalSec <= 0 {
		return errors.Newf(errors.CodeValidation, op, "autosave.intervalSec must be positive, got %d", s.Autosave.IntervalSec)
	}
	if s.AutoSync.IntervalSec < 0 || s.Autosave.IntervalSec < 0 {
		return errors.Newf(errors.CodeValidation, op, "intervals must not be negative")
	}
	if s.TimeoutSec < 0 {
		return errors.Newf(errors.CodeValidation, op, "timeoutSec must not be negative, got %d", s.TimeoutSec)
	}
	return nil
}

func (g *GitSettings) validate(op string) error {
	if strings.TrimSpace(g.RemoteURL) == "" {
		return required(op, "git.remoteUrl")
	}
	if strings.TrimSpace(g.LocalPath) == "" {
		return required(op, "git.localPath")
	}
	switch g.EffectiveAuth() {
	case AuthNone, AuthSSH:
	case AuthPAT:
		if g.PAT == "" {
			return required(op, "git.pat")
		}
	default:
		return errors.Newf(errors.CodeValidation, op, "unknown git.authMethod %q", g.AuthMethod)
	}
	return nil
}

func (s *S3Settings) validate(op string) error {
	if strings.TrimSpace(s.Bucket) == "" {
		return required(op, "s3.bucket")
	}
	if strings.TrimSpace(s.LocalPath) == "" {
		return required(op, "s3.localPath")
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return errors.Newf(errors.CodeValidation, op, "s3.accessKeyId and s3.secretAccessKey must be set together")
	}
	return nil
}

func mismatch(op string, kind Kind) error {
	return errors.Newf(errors.CodeValidation, op, "provider is %q but the %s settings are missing", kind, kind)
}

func required(op, field string) error {
	return errors.Newf(errors.CodeValidation, op, "%s is required", field)
}
