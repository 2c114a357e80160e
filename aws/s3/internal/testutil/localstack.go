// Package testutil starts LocalStack for the S3 integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// Image is the LocalStack image the tests run against.
	Image = "localstack/localstack:latest"

	// Region is the region every LocalStack client is configured with.
	Region = "us-east-1"

	// AccessKeyID and SecretAccessKey are accepted by LocalStack as-is.
	AccessKeyID     = "test"
	SecretAccessKey = "test"
)

// LocalStack is a running LocalStack container.
type LocalStack struct {
	container *localstack.LocalStackContainer
	endpoint  string
}

// StartLocalStack starts a container and registers its termination with t.Cleanup.
// The test is skipped in -short mode.
func StartLocalStack(t *testing.T) *LocalStack {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping LocalStack test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx, Image,
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("start LocalStack: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate LocalStack: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("LocalStack host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4566")
	if err != nil {
		t.Fatalf("LocalStack port: %v", err)
	}

	return &LocalStack{
		container: container,
		endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
	}
}

// Endpoint returns the S3 endpoint URL.
func (l *LocalStack) Endpoint() string {
	return l.endpoint
}

// RawClient returns an SDK client for test setup that the code under test
// does not do itself, such as creating buckets.
func (l *LocalStack) RawClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(AccessKeyID, SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(l.endpoint)
	}), nil
}

// CreateBucket creates a bucket, enabling versioning when versioned is set.
func (l *LocalStack) CreateBucket(ctx context.Context, name string, versioned bool) error {
	client, err := l.RawClient(ctx)
	if err != nil {
		return err
	}

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	if !versioned {
		return nil
	}

	_, err = client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(name),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return fmt.Errorf("enable versioning on %s: %w", name, err)
	}
	return nil
}
