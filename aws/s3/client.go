// Package s3 is a small S3 client for mirroring a working copy to a versioned
// bucket: paged listing, whole-object get and conditional put, delete and
// version history.
package s3

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	s3errors "github.com/notesync/notesync/aws/s3/errors"
	"github.com/notesync/notesync/aws/s3/internal/s3api"
)

// DefaultRegion is used when neither the options nor the environment name one.
const DefaultRegion = "us-east-1"

// Client performs S3 operations. It is safe for concurrent use.
type Client struct {
	api    s3api.S3API
	logger *slog.Logger
}

// New creates a client from the default AWS configuration chain, adjusted by opts.
//
// Example:
//
//	client, err := s3.New(ctx,
//	    s3.WithRegion("eu-west-1"),
//	    s3.WithEndpoint("http://localhost:9000"),
//	    s3.WithForcePathStyle(true),
//	)
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, opt := range opts {
		opt(cc)
	}

	var loadOpts []func(*config.LoadOptions) error
	if cc.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cc.region))
	}
	if cc.accessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cc.accessKeyID, cc.secretAccessKey, cc.sessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, s3errors.NewError("init", err)
	}

	if cc.region != "" {
		cfg.Region = cc.region
	} else if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cc.maxRetries > 0 {
		cfg.RetryMaxAttempts = cc.maxRetries
	}

	var s3Opts []func(*s3.Options)
	if cc.forcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if cc.endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cc.endpoint)
		})
	}
	if cc.timeout > 0 {
		httpClient := &http.Client{Timeout: cc.timeout}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = httpClient
		})
	}

	return newClient(s3.NewFromConfig(cfg, s3Opts...), cc.logger), nil
}

// NewWithClient wraps an existing S3API implementation, typically an
// s3test.Fake in tests.
func NewWithClient(api s3api.S3API, opts ...Option) *Client {
	cc := &clientConfig{}
	for _, opt := range opts {
		opt(cc)
	}
	return newClient(api, cc.logger)
}

func newClient(api s3api.S3API, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, logger: logger}
}
