package s3

import (
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	region          string
	endpoint        string
	forcePathStyle  bool
	timeout         time.Duration
	maxRetries      int
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	logger          *slog.Logger
}

// WithRegion sets the AWS region. Defaults to the credential chain's region,
// or us-east-1 when none is configured.
func WithRegion(region string) Option {
	return func(c *clientConfig) {
		c.region = region
	}
}

// WithEndpoint points the client at an S3-compatible service such as MinIO
// or LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(c *clientConfig) {
		c.endpoint = endpoint
	}
}

// WithForcePathStyle uses path-style addressing instead of virtual-hosted buckets.
func WithForcePathStyle(forcePathStyle bool) Option {
	return func(c *clientConfig) {
		c.forcePathStyle = forcePathStyle
	}
}

// WithTimeout bounds every HTTP request. Zero means no client-side timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithMaxRetries sets the SDK retry attempts. Zero keeps the SDK default.
func WithMaxRetries(maxRetries int) Option {
	return func(c *clientConfig) {
		c.maxRetries = maxRetries
	}
}

// WithStaticCredentials uses the given key pair instead of the default
// credential chain. sessionToken may be empty.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(c *clientConfig) {
		c.accessKeyID = accessKeyID
		c.secretAccessKey = secretAccessKey
		c.sessionToken = sessionToken
	}
}

// WithLogger sets the logger used for request-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}
