// Package s3test provides an in-memory S3 for tests. Fake keeps per-bucket
// versioning state, MD5 ETags and conditional put semantics, so code written
// against the s3 client can be exercised without a network.
package s3test

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // S3 ETags are MD5 digests.
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/notesync/notesync/aws/s3/internal/s3api"
)

var _ s3api.S3API = (*Fake)(nil)

// Operation names accepted by FailOn and Calls.
const (
	OpPutObject           = "PutObject"
	OpGetObject           = "GetObject"
	OpHeadObject          = "HeadObject"
	OpDeleteObject        = "DeleteObject"
	OpListObjectsV2       = "ListObjectsV2"
	OpListObjectVersions  = "ListObjectVersions"
	OpGetBucketVersioning = "GetBucketVersioning"
)

// Fake is an in-memory S3API. The zero value is not usable; call New.
type Fake struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   map[string]int
	fail    map[string]error
	clock   time.Time
	seq     int

	// PageSize caps ListObjectsV2 pages when positive.
	PageSize int
}

type bucket struct {
	versioning types.BucketVersioningStatus
	objects    map[string][]*version // oldest first
}

type version struct {
	id           string
	data         []byte
	etag         string
	modified     time.Time
	deleteMarker bool
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		buckets: make(map[string]*bucket),
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// CreateBucket adds an empty bucket.
func (f *Fake) CreateBucket(name string, versioned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := &bucket{objects: make(map[string][]*version)}
	if versioned {
		b.versioning = types.BucketVersioningStatusEnabled
	}
	f.buckets[name] = b
}

// SetVersioning changes a bucket's versioning status.
func (f *Fake) SetVersioning(name string, status types.BucketVersioningStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buckets[name]; ok {
		b.versioning = status
	}
}

// Seed writes an object as another client would and returns its ETag.
func (f *Fake) Seed(bucketName, key string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(f.mustBucket(bucketName), key, data).etag
}

// Remove deletes an object as another client would.
func (f *Fake) Remove(bucketName, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(f.mustBucket(bucketName), key)
}

// Object returns the current content of key.
func (f *Fake) Object(bucketName, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[bucketName]
	if !ok {
		return nil, false
	}
	v := current(b, key)
	if v == nil {
		return nil, false
	}
	return bytes.Clone(v.data), true
}

// Keys returns the sorted keys that currently exist in the bucket.
func (f *Fake) Keys(bucketName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[bucketName]
	if !ok {
		return nil
	}
	return liveKeys(b, "")
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// FailOn makes every call to op return err. A nil err clears the failure.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// PutObject implements s3api.S3API.
func (f *Fake) PutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	_ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	var data []byte
	if params.Body != nil {
		var err error
		if data, err = io.ReadAll(params.Body); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.enter(ctx, OpPutObject, aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	key := aws.ToString(params.Key)
	cur := current(b, key)
	if aws.ToString(params.IfNoneMatch) == "*" && cur != nil {
		return nil, preconditionFailed()
	}
	if ifMatch := aws.ToString(params.IfMatch); ifMatch != "" {
		if cur == nil || strings.Trim(ifMatch, `"`) != cur.etag {
			return nil, preconditionFailed()
		}
	}

	v := f.write(b, key, data)
	return &s3.PutObjectOutput{
		ETag:      aws.String(quote(v.etag)),
		VersionId: versionID(b, v),
	}, nil
}

// GetObject implements s3api.S3API. VersionId selects an older version.
func (f *Fake) GetObject(
	ctx context.Context,
	params *s3.GetObjectInput,
	_ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.enter(ctx, OpGetObject, aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	key := aws.ToString(params.Key)
	v := current(b, key)
	if id := aws.ToString(params.VersionId); id != "" {
		v = nil
		for _, candidate := range b.objects[key] {
			if candidate.id == id && !candidate.deleteMarker {
				v = candidate
			}
		}
	}
	if v == nil {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(bytes.Clone(v.data))),
		ContentLength: aws.Int64(int64(len(v.data))),
		ETag:          aws.String(quote(v.etag)),
		LastModified:  aws.Time(v.modified),
		VersionId:     versionID(b, v),
	}, nil
}

// HeadObject implements s3api.S3API.
func (f *Fake) HeadObject(
	ctx context.Context,
	params *s3.HeadObjectInput,
	_ ...func(*s3.Options),
) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.enter(ctx, OpHeadObject, aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	v := current(b, aws.ToString(params.Key))
	if v == nil {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(v.data))),
		ETag:          aws.String(quote(v.etag)),
		LastModified:  aws.Time(v.modified),
		VersionId:     versionID(b, v),
	}, nil
}

// DeleteObject implements s3api.S3API. Versioned buckets get a delete marker.
func (f *Fake) DeleteObject(
	ctx context.Context,
	params *s3.DeleteObjectInput,
	_ ...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.enter(ctx, OpDeleteObject, aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	marker := f.remove(b, aws.ToString(params.Key))
	out := &s3.DeleteObjectOutput{}
	if marker != nil {
		out.DeleteMarker = aws.Bool(true)
		out.VersionId = aws.String(marker.id)
	}
	return out, nil
}

// ListObjectsV2 implements s3api.S3API. Continuation tokens are the last key
// of the previous page.
func (f *Fake) ListObjectsV2(
	ctx context.Context,
	params *s3.ListObjectsV2Input,
	_ ...func(*s3.Options),
) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.enter(ctx, OpListObjectsV2, aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	pageSize := int(aws.ToInt32(params.MaxKeys))
	if f.PageSize > 0 && (pageSize == 0 || f.PageSize < pageSize) {
		pageSize = f.PageSize
	}
	if pageSize <= 0 {
		pageSize = 1000
	}

	keys := liveKeys(b, aws.ToString(params.Prefix))
	if token := aws.ToString(params.ContinuationToken); token != "" {
		start := sort.SearchStrings(keys, token)
		if start < len(keys) && keys[start] == token {
			start++
		}
		keys = keys[start:]
	}

	out := &s3.ListObjectsV2Output{Name: params.Bucket, Prefix: params.Prefix}
	if len(keys) > pageSize {
		keys = keys[:pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	} else {
		out.IsTruncated = aws.Bool(false)
	}

	for _, key := range keys {
		v := current(b, key)
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			ETag:         aws.String(quote(v.etag)),
			Size:         aws.Int64(int64(len(v.data))),
			LastModified: aws.Time(v.modified),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents))) //nolint:gosec // bounded by pageSize
	return out, nil
}

// ListObjectVersions implements s3api.S3API. Results are never truncated.
func (f *Fake) ListObjectVersions(
	ctx context.Context,
	params *s3.ListObjectVersionsInput,
	_ ...func(*s3.Options),
) (*s3.ListObjectVersionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.enter(ctx, OpListObjectVersions, aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectVersionsOutput{IsTruncated: aws.Bool(false), Prefix: params.Prefix}
	for _, key := range keys {
		history := b.objects[key]
		for i := len(history) - 1; i >= 0; i-- {
			v := history[i]
			latest := i == len(history)-1
			if v.deleteMarker {
				out.DeleteMarkers = append(out.DeleteMarkers, types.DeleteMarkerEntry{
					Key:          aws.String(key),
					VersionId:    aws.String(v.id),
					IsLatest:     aws.Bool(latest),
					LastModified: aws.Time(v.modified),
				})
				continue
			}
			out.Versions = append(out.Versions, types.ObjectVersion{
				Key:          aws.String(key),
				VersionId:    aws.String(v.id),
				ETag:         aws.String(quote(v.etag)),
				IsLatest:     aws.Bool(latest),
				LastModified: aws.Time(v.modified),
				Size:         aws.Int64(int64(len(v.data))),
			})
		}
	}
	return out, nil
}

// GetBucketVersioning implements s3api.S3API.
func (f *Fake) GetBucketVersioning(
	ctx context.Context,
	params *s3.GetBucketVersioningInput,
	_ ...func(*s3.Options),
) (*s3.GetBucketVersioningOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.enter(ctx, OpGetBucketVersioning, aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	return &s3.GetBucketVersioningOutput{Status: b.versioning}, nil
}

// enter records the call and resolves the bucket. Callers hold f.mu.
func (f *Fake) enter(ctx context.Context, op, bucketName string) (*bucket, error) {
	f.calls[op]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.fail[op]; err != nil {
		return nil, err
	}
	b, ok := f.buckets[bucketName]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
	}
	return b, nil
}

func (f *Fake) mustBucket(name string) *bucket {
	b, ok := f.buckets[name]
	if !ok {
		panic(fmt.Sprintf("s3test: bucket %q does not exist", name))
	}
	return b
}

func (f *Fake) tick() (string, time.Time) {
	f.seq++
	f.clock = f.clock.Add(time.Second)
	return fmt.Sprintf("v%06d", f.seq), f.clock
}

func (f *Fake) write(b *bucket, key string, data []byte) *version {
	id, now := f.tick()
	sum := md5.Sum(data) //nolint:gosec // S3 ETags are MD5 digests.
	v := &version{id: id, data: bytes.Clone(data), etag: hex.EncodeToString(sum[:]), modified: now}

	if b.versioning == types.BucketVersioningStatusEnabled {
		b.objects[key] = append(b.objects[key], v)
	} else {
		v.id = "null"
		b.objects[key] = []*version{v}
	}
	return v
}

func (f *Fake) remove(b *bucket, key string) *version {
	if b.versioning != types.BucketVersioningStatusEnabled {
		delete(b.objects, key)
		return nil
	}
	id, now := f.tick()
	marker := &version{id: id, modified: now, deleteMarker: true}
	b.objects[key] = append(b.objects[key], marker)
	return marker
}

func current(b *bucket, key string) *version {
	history := b.objects[key]
	if len(history) == 0 {
		return nil
	}
	if v := history[len(history)-1]; !v.deleteMarker {
		return v
	}
	return nil
}

func liveKeys(b *bucket, prefix string) []string {
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) && current(b, key) != nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func versionID(b *bucket, v *version) *string {
	if b.versioning != types.BucketVersioningStatusEnabled {
		return nil
	}
	return aws.String(v.id)
}

func quote(etag string) string {
	return `"` + etag + `"`
}

func preconditionFailed() error {
	return &smithy.GenericAPIError{
		Code:    "PreconditionFailed",
		Message: "At least one of the pre-conditions you specified did not hold",
	}
}

// APIError returns a service error with the given code, for use with FailOn.
func APIError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}
