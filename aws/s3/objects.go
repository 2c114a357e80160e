package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	s3errors "github.com/notesync/notesync/aws/s3/errors"
)

// DefaultContentType is used when neither content nor extension identify a type.
const DefaultContentType = "application/octet-stream"

const listPageSize = 1000

// Object describes a current object in a listing.
type Object struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// ObjectData is a downloaded object.
type ObjectData struct {
	Body         []byte
	ETag         string
	VersionID    string
	LastModified time.Time
}

// Version is one entry of an object's version history.
type Version struct {
	Key          string
	VersionID    string
	ETag         string
	Size         int64
	LastModified time.Time
	IsLatest     bool
	DeleteMarker bool
}

// PutOptions controls a single upload.
type PutOptions struct {
	// IfMatch makes the put succeed only if the current object has this ETag.
	IfMatch string

	// IfNoneMatch makes the put succeed only if no object exists at the key.
	IfNoneMatch bool

	// ContentType overrides detection.
	ContentType string
}

// PutResult is the state of an object after a successful put.
type PutResult struct {
	ETag      string
	VersionID string
}

// VersioningEnabled reports whether bucket versioning is Enabled. Suspended
// and never-configured buckets both report false.
func (c *Client) VersioningEnabled(ctx context.Context, bucket string) (bool, error) {
	out, err := c.api.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return false, s3errors.NewBucketError("versioning", bucket, convertAWSError(err))
	}
	return out.Status == types.BucketVersioningStatusEnabled, nil
}

// List returns every object under prefix, following continuation tokens.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var (
		objects []Object
		token   *string
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, s3errors.NewBucketError("list", bucket, convertAWSError(err))
		}

		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
			MaxKeys:           aws.Int32(listPageSize),
		})
		if err != nil {
			return nil, s3errors.NewBucketError("list", bucket, convertAWSError(err))
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			objects = append(objects, Object{
				Key:          key,
				ETag:         trimETag(aws.ToString(obj.ETag)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	c.logger.Debug("listed objects", "bucket", bucket, "prefix", prefix, "count", len(objects))
	return objects, nil
}

// Get downloads an object in full.
func (c *Client) Get(ctx context.Context, bucket, key string) (*ObjectData, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3errors.NewObjectError("get", bucket, key, convertAWSError(err))
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s3errors.NewObjectError("get", bucket, key, convertAWSError(err))
	}

	return &ObjectData{
		Body:         body,
		ETag:         trimETag(aws.ToString(out.ETag)),
		VersionID:    aws.ToString(out.VersionId),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Head returns an object's metadata without its body.
func (c *Client) Head(ctx context.Context, bucket, key string) (*Object, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3errors.NewObjectError("head", bucket, key, convertAWSError(err))
	}
	return &Object{
		Key:          key,
		ETag:         trimETag(aws.ToString(out.ETag)),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Put uploads data. A rejected condition returns an error wrapping
// s3errors.ErrPreconditionFailed.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (*PutResult, error) {
	contentType := opts.ContentType
	if contentType == "" {
		contentType = detectContentType(key, data)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	switch {
	case opts.IfMatch != "":
		input.IfMatch = aws.String(quoteETag(opts.IfMatch))
	case opts.IfNoneMatch:
		input.IfNoneMatch = aws.String("*")
	}

	out, err := c.api.PutObject(ctx, input)
	if err != nil {
		return nil, s3errors.NewObjectError("put", bucket, key, convertAWSError(err))
	}

	c.logger.Debug("put object", "bucket", bucket, "key", key, "size", len(data))
	return &PutResult{
		ETag:      trimETag(aws.ToString(out.ETag)),
		VersionID: aws.ToString(out.VersionId),
	}, nil
}

// Delete removes the current version of an object. On a versioned bucket this
// writes a delete marker; earlier versions stay in the history.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s3errors.NewObjectError("delete", bucket, key, convertAWSError(err))
	}
	return nil
}

// Versions returns the history of exactly key, newest first. limit <= 0
// returns everything.
func (c *Client) Versions(ctx context.Context, bucket, key string, limit int) ([]Version, error) {
	var (
		versions   []Version
		keyMarker  *string
		versMarker *string
	)

	for {
		out, err := c.api.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			Prefix:          aws.String(key),
			KeyMarker:       keyMarker,
			VersionIdMarker: versMarker,
		})
		if err != nil {
			return nil, s3errors.NewObjectError("versions", bucket, key, convertAWSError(err))
		}

		for _, v := range out.Versions {
			if aws.ToString(v.Key) != key {
				continue
			}
			versions = append(versions, Version{
				Key:          key,
				VersionID:    aws.ToString(v.VersionId),
				ETag:         trimETag(aws.ToString(v.ETag)),
				Size:         aws.ToInt64(v.Size),
				LastModified: aws.ToTime(v.LastModified),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
		for _, m := range out.DeleteMarkers {
			if aws.ToString(m.Key) != key {
				continue
			}
			versions = append(versions, Version{
				Key:          key,
				VersionID:    aws.ToString(m.VersionId),
				LastModified: aws.ToTime(m.LastModified),
				IsLatest:     aws.ToBool(m.IsLatest),
				DeleteMarker: true,
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		keyMarker, versMarker = out.NextKeyMarker, out.NextVersionIdMarker
	}

	sortVersions(versions)
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

// sortVersions orders newest first; the latest version wins ties.
func sortVersions(vs []Version) {
	slices.SortStableFunc(vs, func(a, b Version) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		switch {
		case a.IsLatest && !b.IsLatest:
			return -1
		case b.IsLatest && !a.IsLatest:
			return 1
		}
		return 0
	})
}

// detectContentType sniffs data with mimetype and prefers the extension's
// registered type when sniffing only finds generic text or binary.
func detectContentType(key string, data []byte) string {
	sniffed := ""
	if len(data) > 0 {
		sniffed = mimetype.Detect(data).String()
	}

	generic := sniffed == "" || sniffed == DefaultContentType || strings.HasPrefix(sniffed, "text/plain")
	if generic {
		if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(key))); byExt != "" {
			return byExt
		}
	}
	if sniffed != "" {
		return sniffed
	}
	return DefaultContentType
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func quoteETag(etag string) string {
	return fmt.Sprintf("%q", trimETag(etag))
}
