// Package auth resolves go-git transport credentials for a remote URL.
package auth

import (
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Provider returns the go-git AuthMethod to use for remoteURL. A nil method
// with a nil error means the remote is contacted anonymously.
type Provider interface {
	Method(remoteURL string) (transport.AuthMethod, error)
}
