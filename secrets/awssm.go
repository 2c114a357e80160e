package secrets

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// AWS error codes mapped to package sentinels.
const (
	resourceNotFoundException = "ResourceNotFoundException"
	accessDeniedException     = "AccessDeniedException"
)

// ManagerAPI is the subset of the Secrets Manager client the backend uses.
type ManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSBackend resolves awssm:// references against AWS Secrets Manager. The
// path is a secret name or ARN, optionally followed by #key to select one
// field of a JSON secret.
//
// The SDK client is created on first use from the default credential chain.
type AWSBackend struct {
	region string
	logger *slog.Logger

	mu  sync.Mutex
	api ManagerAPI
}

// AWSOption configures an AWSBackend.
type AWSOption func(*AWSBackend)

// WithAPI uses api instead of a client built from the default configuration.
func WithAPI(api ManagerAPI) AWSOption {
	return func(b *AWSBackend) {
		b.api = api
	}
}

// WithRegion sets the region of the default client.
func WithRegion(region string) AWSOption {
	return func(b *AWSBackend) {
		b.region = region
	}
}

// WithAWSLogger sets the backend's logger.
func WithAWSLogger(logger *slog.Logger) AWSOption {
	return func(b *AWSBackend) {
		b.logger = logger
	}
}

// NewAWSBackend returns a Secrets Manager backend.
func NewAWSBackend(opts ...AWSOption) *AWSBackend {
	b := &AWSBackend{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *AWSBackend) Scheme() string { return schemeAWSSM }

func (b *AWSBackend) client(ctx context.Context) (ManagerAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.api != nil {
		return b.api, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if b.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(b.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	b.api = secretsmanager.NewFromConfig(cfg)
	return b.api, nil
}

// Resolve implements Backend.
func (b *AWSBackend) Resolve(ctx context.Context, path string) (string, error) {
	name, key, _ := strings.Cut(path, "#")
	if name == "" {
		return "", fmt.Errorf("%w: empty secret name", ErrSecretNotFound)
	}

	api, err := b.client(ctx)
	if err != nil {
		return "", err
	}

	b.logger.DebugContext(ctx, "retrieving secret", "secret_name", name)
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var apiErr smithy.APIError
		if stderrors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case resourceNotFoundException:
				return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
			case accessDeniedException:
				return "", fmt.Errorf("%w: %s", ErrAccessDenied, name)
			}
			return "", fmt.Errorf("GetSecretValue failed: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return "", fmt.Errorf("GetSecretValue failed: %w", err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	default:
		return "", fmt.Errorf("%w: %s", ErrSecretEmpty, name)
	}

	if key == "" {
		return value, nil
	}
	return jsonField(name, key, value)
}

func jsonField(name, key, value string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s has no key %q", ErrSecretNotFound, name, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret %s key %q is not a string", name, key)
	}
	return s, nil
}
