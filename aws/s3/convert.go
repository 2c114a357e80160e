package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	s3errors "github.com/notesync/notesync/aws/s3/errors"
)

// convertAWSError maps SDK and transport errors onto the s3errors sentinels,
// keeping the original error in the chain.
func convertAWSError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", s3errors.ErrTimeout, err)
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %w", s3errors.ErrBucketNotFound, err)
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %w", s3errors.ErrObjectNotFound, err)
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", s3errors.ErrObjectNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken",
			"InvalidToken", "TokenRefreshRequired", "UnrecognizedClientException":
			return fmt.Errorf("%w: %w", s3errors.ErrInvalidCredentials, err)
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return fmt.Errorf("%w: %w", s3errors.ErrAccessDenied, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %w", s3errors.ErrPreconditionFailed, err)
		case "NoSuchBucket":
			return fmt.Errorf("%w: %w", s3errors.ErrBucketNotFound, err)
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", s3errors.ErrObjectNotFound, err)
		}
	}

	// Credential resolution fails before any request is signed.
	if strings.Contains(err.Error(), "failed to retrieve credentials") ||
		strings.Contains(err.Error(), "no valid providers in chain") {
		return fmt.Errorf("%w: %w", s3errors.ErrInvalidCredentials, err)
	}

	return err
}
