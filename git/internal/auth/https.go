package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// TokenUsername is sent alongside a personal access token. GitHub, GitLab and
// Gitea all ignore it, but some servers reject an empty username.
const TokenUsername = "token"

// HTTPSAuthProvider authenticates HTTP(S) remotes with basic auth.
type HTTPSAuthProvider struct {
	auth *http.BasicAuth

	// AllowedHosts restricts authentication to specific host patterns such as
	// "*.github.com" or "gitlab.*". Empty means every host.
	AllowedHosts []string
}

// NewHTTPSTokenProvider authenticates with a personal access token.
func NewHTTPSTokenProvider(token string) *HTTPSAuthProvider {
	return &HTTPSAuthProvider{
		auth: &http.BasicAuth{
			Username: TokenUsername,
			Password: token,
		},
	}
}

// WithAllowedHosts sets the allowed hosts for this provider.
func (p *HTTPSAuthProvider) WithAllowedHosts(hosts ...string) *HTTPSAuthProvider {
	p.AllowedHosts = hosts
	return p
}

// Method returns basic auth for http and https remotes.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *HTTPSAuthProvider) Method(remoteURL string) (transport.AuthMethod, error) {
	parsedURL, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "https", "http":
	default:
		return nil, fmt.Errorf("token auth only supports http(s) URLs, got %q", parsedURL.Scheme)
	}

	if len(p.AllowedHosts) > 0 && !hostAllowed(parsedURL.Hostname(), p.AllowedHosts) {
		return nil, nil
	}

	return p.auth, nil
}

func hostAllowed(host string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(host, pattern) {
			return true
		}
	}
	return false
}

// matchesPattern matches host against an exact name or a single leading
// "*." / trailing ".*" wildcard.
func matchesPattern(host, pattern string) bool {
	if host == pattern {
		return true
	}

	if strings.Count(pattern, "*") != 1 {
		return false
	}

	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}

	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(host, prefix+".")
	}

	return false
}
