package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// SSHAuthProvider authenticates SSH remotes with a private key file or the
// running SSH agent.
type SSHAuthProvider struct {
	// PrivateKeyPath is the path to the SSH private key file.
	PrivateKeyPath string

	// Passphrase for encrypted private keys.
	Passphrase string

	// Username for SSH authentication (defaults to "git").
	Username string

	// UseSSHAgent enables SSH agent integration.
	UseSSHAgent bool

	// HostKeyCallback verifies server host keys. When nil go-git falls back
	// to the user's known_hosts files.
	HostKeyCallback gossh.HostKeyCallback
}

// NewSSHKeyProvider creates an SSH provider using a private key file.
func NewSSHKeyProvider(keyPath, passphrase string) *SSHAuthProvider {
	return &SSHAuthProvider{
		PrivateKeyPath: keyPath,
		Passphrase:     passphrase,
		Username:       "git",
	}
}

// NewSSHAgentProvider creates an SSH provider that uses SSH agent.
func NewSSHAgentProvider() *SSHAuthProvider {
	return &SSHAuthProvider{
		UseSSHAgent: true,
		Username:    "git",
	}
}

// WithHostKeyCallback sets the host key verification callback.
func (p *SSHAuthProvider) WithHostKeyCallback(callback gossh.HostKeyCallback) *SSHAuthProvider {
	p.HostKeyCallback = callback
	return p
}

// Method returns the SSH auth method for remoteURL.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *SSHAuthProvider) Method(remoteURL string) (transport.AuthMethod, error) {
	scheme, err := sshScheme(remoteURL)
	if err != nil {
		return nil, err
	}
	if scheme != "ssh" && scheme != "git+ssh" {
		return nil, fmt.Errorf("SSH auth only supports ssh URLs, got %q", scheme)
	}

	switch {
	case p.PrivateKeyPath != "":
		return p.fileAuth()
	case p.UseSSHAgent:
		return p.agentAuth()
	default:
		return nil, errors.New("no SSH credentials configured")
	}
}

// sshScheme understands both URL form and scp-like "user@host:path".
func sshScheme(remoteURL string) (string, error) {
	if !strings.Contains(remoteURL, "://") {
		if at := strings.Index(remoteURL, "@"); at > 0 && strings.Contains(remoteURL[at:], ":") {
			return "ssh", nil
		}
	}

	parsedURL, err := url.Parse(remoteURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	return parsedURL.Scheme, nil
}

//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *SSHAuthProvider) agentAuth() (transport.AuthMethod, error) {
	auth, err := ssh.NewSSHAgentAuth(p.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH agent auth: %w", err)
	}
	if p.HostKeyCallback != nil {
		auth.HostKeyCallback = p.HostKeyCallback
	}
	return auth, nil
}

//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *SSHAuthProvider) fileAuth() (transport.AuthMethod, error) {
	if _, err := os.Stat(p.PrivateKeyPath); err != nil {
		return nil, fmt.Errorf("SSH private key %s: %w", p.PrivateKeyPath, err)
	}
	auth, err := ssh.NewPublicKeysFromFile(p.Username, p.PrivateKeyPath, p.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key from file: %w", err)
	}
	if p.HostKeyCallback != nil {
		auth.HostKeyCallback = p.HostKeyCallback
	}
	return auth, nil
}
