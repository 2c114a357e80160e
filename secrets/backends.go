package secrets

import (
	"context"
	stderrors "errors"
	"fmt"
	iofs "io/fs"
	"os"
	"strings"
)

const (
	schemeEnv   = "env"
	schemeFile  = "file"
	schemeAWSSM = "awssm"
)

// EnvBackend reads environment variables.
type EnvBackend struct{}

func (EnvBackend) Scheme() string { return schemeEnv }

func (EnvBackend) Resolve(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, name)
	}
	return v, nil
}

// FileBackend reads a file and trims trailing line breaks, so tokens saved
// with an editor work as is.
type FileBackend struct{}

func (FileBackend) Scheme() string { return schemeFile }

func (FileBackend) Resolve(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case stderrors.Is(err, iofs.ErrNotExist):
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	case stderrors.Is(err, iofs.ErrPermission):
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, path)
	case err != nil:
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
