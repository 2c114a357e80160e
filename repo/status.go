// Package repo defines the provider-independent model of a synchronized
// working copy: its status, settings, the Provider contract every backend
// implements, and helpers shared by the backends.
package repo

import (
	"fmt"
	"strings"

	"github.com/notesync/notesync/errors"
)

// Kind identifies a provider.
type Kind string

const (
	KindGit   Kind = "git"
	KindS3    Kind = "s3"
	KindLocal Kind = "local"
)

// ParseKind parses a provider name case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindGit, KindS3, KindLocal:
		return k, nil
	default:
		return "", errors.Newf(errors.CodeValidation, "repo.kind", "unknown provider %q", s)
	}
}

// Introspection is what a provider measured about its working copy. Values
// may be raw; ComputeStatus normalizes them.
type Introspection struct {
	Branch         string
	Ahead          int
	Behind         int
	HasUncommitted bool
	PendingPush    int
}

// Status is the derived state of a working copy relative to its remote.
type Status struct {
	Provider         Kind   `json:"provider"`
	Branch           string `json:"branch"`
	Ahead            int    `json:"ahead"`
	Behind           int    `json:"behind"`
	HasUncommitted   bool   `json:"hasUncommitted"`
	PendingPushCount int    `json:"pendingPushCount"`
	NeedsPull        bool   `json:"needsPull"`
}

func (s Status) String() string {
	return fmt.Sprintf("%s[%s] ahead=%d behind=%d pending=%d uncommitted=%t",
		s.Provider, s.Branch, s.Ahead, s.Behind, s.PendingPushCount, s.HasUncommitted)
}

// ComputeStatus derives a Status. Negative counts clamp to zero, NeedsPull
// follows Behind, and a local working copy never has a remote position.
func ComputeStatus(kind Kind, in Introspection) Status {
	st := Status{
		Provider:         kind,
		Branch:           in.Branch,
		Ahead:            max(in.Ahead, 0),
		Behind:           max(in.Behind, 0),
		HasUncommitted:   in.HasUncommitted,
		PendingPushCount: max(in.PendingPush, 0),
	}

	if kind == KindLocal {
		st.Branch = ""
		st.Ahead, st.Behind, st.PendingPushCount = 0, 0, 0
	}

	st.NeedsPull = st.Behind > 0
	return st
}
