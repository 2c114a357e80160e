// Package errors provides error types and handling for S3 operations.
package errors

import (
	"errors"
	"fmt"
)

// Error is an S3 operation failure with the bucket and key it concerned.
type Error struct {
	// Op is the operation that failed (e.g. "put", "list", "versioning").
	Op string

	Bucket string
	Key    string

	// Err is the classified cause, usually wrapping one of the sentinels below.
	Err error
}

func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("s3.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("s3.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error without bucket context.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// NewBucketError creates an Error scoped to a bucket.
func NewBucketError(op, bucket string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Err: err}
}

// NewObjectError creates an Error scoped to one object.
func NewObjectError(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

// Sentinel errors for use with errors.Is.
var (
	ErrObjectNotFound     = errors.New("s3: object not found")
	ErrBucketNotFound     = errors.New("s3: bucket not found")
	ErrAccessDenied       = errors.New("s3: access denied")
	ErrInvalidCredentials = errors.New("s3: invalid credentials")
	ErrInvalidInput       = errors.New("s3: invalid input")
	ErrTimeout            = errors.New("s3: operation timeout")

	// ErrPreconditionFailed means a conditional request (If-Match or
	// If-None-Match) found the object in a different state than expected.
	ErrPreconditionFailed = errors.New("s3: precondition failed")
)

// IsObjectNotFound reports whether err indicates a missing object.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsBucketNotFound reports whether err indicates a missing bucket.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsAuth reports whether err is a credential or permission failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidCredentials)
}

// IsPreconditionFailed reports whether a conditional request was rejected.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}
