// Package store provides the object-store capability interface the
// transfer engine consumes, plus its S3 implementation.
//
// The engine never talks to the AWS SDK directly: every network
// primitive it needs (single put/get, multipart lifecycle, head, list,
// delete, copy) goes through the Store interface so tests can swap in
// fakes and the retry layer can wrap individual calls.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/internal/s3api"
	"github.com/s3shuttle/shuttle/internal/validation"
)

// deleteBatchSize is the S3 limit on objects per DeleteObjects call.
const deleteBatchSize = 1000

// ByteRange selects an inclusive byte range of an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// ListPage is one page of listing results.
type ListPage struct {
	Objects        []ObjectInfo
	CommonPrefixes []string

	// Truncated reports whether more results follow. Buggy providers
	// sometimes set this without supplying a continuation token.
	Truncated bool
}

// HeadInfo describes the existence and size of an object.
type HeadInfo struct {
	Exists bool
	Size   int64
	ETag   string
}

// CompletedPart pairs an uploaded part's index with its entity tag.
type CompletedPart struct {
	// Index is the zero-based part index; the wire part number is Index+1.
	Index int32
	ETag  string
}

// Store is the capability set the transfer engine requires from an
// S3-compatible object store.
type Store interface {
	// PutObject uploads body as a single object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// InitiateMultipart starts a multipart upload and returns its ID.
	InitiateMultipart(ctx context.Context, key string) (string, error)

	// UploadPart uploads one part and returns its entity tag.
	UploadPart(ctx context.Context, key, uploadID string, index int32, body io.Reader, length int64) (string, error)

	// CompleteMultipart assembles previously uploaded parts. Parts must
	// be supplied in ascending index order.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error

	// AbortMultipart discards a multipart upload and its stored parts.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// GetObject retrieves an object, optionally restricted to a byte
	// range. The caller owns the returned body.
	GetObject(ctx context.Context, key string, rng *ByteRange) (io.ReadCloser, int64, error)

	// HeadObject reports whether an object exists and its size.
	HeadObject(ctx context.Context, key string) (HeadInfo, error)

	// ListPage lists one page under prefix. An empty delimiter lists
	// recursively.
	ListPage(ctx context.Context, prefix, delimiter, continuationToken, startAfter string) (*ListPage, string, error)

	// DeleteObjects removes the given keys, batching as required.
	DeleteObjects(ctx context.Context, keys []string) error

	// CopyObject copies srcKey to dstKey within the bucket.
	CopyObject(ctx context.Context, srcKey, dstKey string) error
}

// S3Store implements Store against an S3-compatible endpoint.
type S3Store struct {
	client s3api.S3API
	bucket string
}

// New creates an S3Store for the given bucket.
func New(client s3api.S3API, bucket string) (*S3Store, error) {
	if err := validation.ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	return &S3Store{client: client, bucket: bucket}, nil
}

// Bucket returns the bucket the store operates on.
func (s *S3Store) Bucket() string { return s.bucket }

// PutObject uploads body as a single object. Content type is sniffed
// from the leading bytes when the body supports seeking back.
func (s *S3Store) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	if err := validation.ValidateObjectKey(key); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if ct := detectContentType(key, body); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return wrap("putObject", s.bucket, key, err)
	}
	return nil
}

// InitiateMultipart starts a multipart upload for key.
func (s *S3Store) InitiateMultipart(ctx context.Context, key string) (string, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return "", err
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if ct := extensionContentType(key); ct != "" {
		input.ContentType = aws.String(ct)
	}

	output, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", wrap("initiateMultipart", s.bucket, key, err)
	}
	return aws.ToString(output.UploadId), nil
}

// UploadPart uploads one part of a multipart upload.
func (s *S3Store) UploadPart(
	ctx context.Context,
	key, uploadID string,
	index int32,
	body io.Reader,
	length int64,
) (string, error) {
	input := &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(index + 1),
		Body:          body,
		ContentLength: aws.Int64(length),
	}

	output, err := s.client.UploadPart(ctx, input)
	if err != nil {
		return "", wrap("uploadPart", s.bucket, key, err)
	}
	return aws.ToString(output.ETag), nil
}

// CompleteMultipart finalizes a multipart upload from its part tags.
func (s *S3Store) CompleteMultipart(
	ctx context.Context,
	key, uploadID string,
	parts []CompletedPart,
) error {
	completed := make([]awstypes.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = awstypes.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Index + 1),
		}
	}

	input := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{
			Parts: completed,
		},
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, input); err != nil {
		return wrap("completeMultipart", s.bucket, key, err)
	}
	return nil
}

// AbortMultipart discards a multipart upload.
func (s *S3Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	input := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}
	if _, err := s.client.AbortMultipartUpload(ctx, input); err != nil {
		return wrap("abortMultipart", s.bucket, key, err)
	}
	return nil
}

// GetObject retrieves an object, optionally a byte range of it.
func (s *S3Store) GetObject(
	ctx context.Context,
	key string,
	rng *ByteRange,
) (io.ReadCloser, int64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if rng != nil {
		input.Range = aws.String(rng.Header())
	}

	output, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, 0, wrap("getObject", s.bucket, key, err)
	}

	size := int64(0)
	if output.ContentLength != nil {
		size = *output.ContentLength
	}
	return output.Body, size, nil
}

// HeadObject reports existence and size without retrieving the body.
// A missing object is not an error.
func (s *S3Store) HeadObject(ctx context.Context, key string) (HeadInfo, error) {
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return HeadInfo{}, nil
		}
		return HeadInfo{}, wrap("headObject", s.bucket, key, err)
	}

	info := HeadInfo{Exists: true, ETag: aws.ToString(output.ETag)}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	return info, nil
}

// ListPage lists one page of objects under prefix. It returns the next
// continuation token, empty when the listing is complete.
func (s *S3Store) ListPage(
	ctx context.Context,
	prefix, delimiter, continuationToken, startAfter string,
) (*ListPage, string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	} else if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}

	output, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", wrap("listObjects", s.bucket, prefix, err)
	}

	page := &ListPage{}
	for _, obj := range output.Contents {
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         aws.ToString(obj.ETag),
		})
	}
	for _, cp := range output.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}

	next := ""
	if aws.ToBool(output.IsTruncated) {
		page.Truncated = true
		next = aws.ToString(output.NextContinuationToken)
	}
	return page, next, nil
}

// DeleteObjects removes keys in batches of up to 1000 per request.
func (s *S3Store) DeleteObjects(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		identifiers := make([]awstypes.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			identifiers = append(identifiers, awstypes.ObjectIdentifier{
				Key: aws.String(key),
			})
		}

		output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &awstypes.Delete{
				Objects: identifiers,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return wrap("deleteObjects", s.bucket, "", err)
		}
		if len(output.Errors) > 0 {
			first := output.Errors[0]
			return errors.NewObjectError(
				"deleteObjects",
				s.bucket,
				aws.ToString(first.Key),
				fmt.Errorf("%s: %s", aws.ToString(first.Code), aws.ToString(first.Message)),
			)
		}
	}
	return nil
}

// CopyObject copies srcKey to dstKey within the bucket.
func (s *S3Store) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	if err := validation.ValidateObjectKey(dstKey); err != nil {
		return err
	}

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return wrap("copyObject", s.bucket, dstKey, err)
	}
	return nil
}

// wrap converts an AWS SDK error into a contextual module error,
// mapping well-known API codes onto sentinel errors.
func wrap(op, bucket, key string, err error) error {
	switch {
	case isNotFound(err):
		err = errors.ErrObjectNotFound
	case isAccessDenied(err):
		err = errors.ErrAccessDenied
	}
	return errors.NewObjectError(op, bucket, key, err)
}

// isNotFound checks for NoSuchKey/NotFound API responses.
func isNotFound(err error) bool {
	var nsk *awstypes.NoSuchKey
	if stderrors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

// isAccessDenied checks for permission-denied API responses.
func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "AccessDenied" || code == "Forbidden" || code == "403"
	}
	return false
}

// detectContentType sniffs the content type from the body's leading
// bytes when it is seekable, falling back to the key's extension.
func detectContentType(key string, body io.Reader) string {
	if seeker, ok := body.(io.ReadSeeker); ok {
		buf := make([]byte, 512)
		n, _ := seeker.Read(buf)
		if _, err := seeker.Seek(0, io.SeekStart); err == nil && n > 0 {
			if mt := mimetype.Detect(buf[:n]); mt != nil {
				return mt.String()
			}
		}
	}
	return extensionContentType(key)
}

// extensionContentType maps common key extensions to MIME types;
// extensionless keys return an empty string.
func extensionContentType(key string) string {
	idx := strings.LastIndex(key, ".")
	if idx < 0 || idx == len(key)-1 {
		return ""
	}
	switch strings.ToLower(key[idx+1:]) {
	case "txt", "csv", "log":
		return "text/plain"
	case "json":
		return "application/json"
	case "pdf":
		return "application/pdf"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "zip":
		return "application/zip"
	case "gz", "tgz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
