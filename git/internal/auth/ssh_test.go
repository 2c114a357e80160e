package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestSSHKeyProvider_Method(t *testing.T) {
	keyPath := writeTestKey(t)

	tests := []struct {
		name      string
		provider  *SSHAuthProvider
		remoteURL string
		wantError bool
	}{
		{
			name:      "ssh URL",
			provider:  NewSSHKeyProvider(keyPath, ""),
			remoteURL: "ssh://git@github.com/me/notes.git",
		},
		{
			name:      "scp-like URL",
			provider:  NewSSHKeyProvider(keyPath, ""),
			remoteURL: "git@github.com:me/notes.git",
		},
		{
			name:      "https URL is rejected",
			provider:  NewSSHKeyProvider(keyPath, ""),
			remoteURL: "https://github.com/me/notes.git",
			wantError: true,
		},
		{
			name:      "missing key file",
			provider:  NewSSHKeyProvider(filepath.Join(t.TempDir(), "nope"), ""),
			remoteURL: "ssh://git@github.com/me/notes.git",
			wantError: true,
		},
		{
			name:      "no credentials",
			provider:  &SSHAuthProvider{Username: "git"},
			remoteURL: "ssh://git@github.com/me/notes.git",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, err := tt.provider.Method(tt.remoteURL)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			keys, ok := method.(*ssh.PublicKeys)
			require.True(t, ok)
			assert.Equal(t, "git", keys.User)
		})
	}
}

func TestSSHKeyProvider_HostKeyCallback(t *testing.T) {
	provider := NewSSHKeyProvider(writeTestKey(t), "").
		WithHostKeyCallback(gossh.InsecureIgnoreHostKey())

	method, err := provider.Method("ssh://git@example.com/notes.git")
	require.NoError(t, err)
	keys, ok := method.(*ssh.PublicKeys)
	require.True(t, ok)
	assert.NotNil(t, keys.HostKeyCallback)
}
