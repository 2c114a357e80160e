package git

import (
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/notesync/notesync/git/internal/auth"
)

// AuthProvider resolves authentication methods for git operations.
type AuthProvider interface {
	// Method returns the transport.AuthMethod for remoteURL, or nil when the
	// remote should be contacted anonymously.
	Method(remoteURL string) (transport.AuthMethod, error)
}

// NewTokenAuth authenticates HTTP(S) remotes with a personal access token.
//
//nolint:ireturn // callers only need the provider contract
func NewTokenAuth(token string) AuthProvider {
	return auth.NewHTTPSTokenProvider(token)
}

// NewSSHKeyAuth authenticates SSH remotes with a private key file.
//
//nolint:ireturn // callers only need the provider contract
func NewSSHKeyAuth(keyPath, passphrase string) AuthProvider {
	return auth.NewSSHKeyProvider(keyPath, passphrase)
}

// NewSSHAgentAuth authenticates SSH remotes through the running SSH agent.
//
//nolint:ireturn // callers only need the provider contract
func NewSSHAgentAuth() AuthProvider {
	return auth.NewSSHAgentProvider()
}
