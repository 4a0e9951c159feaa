package store_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/internal/store"
	"github.com/s3shuttle/shuttle/internal/testutil"
)

func newTestStore(t *testing.T, client *testutil.MockS3Client) *store.S3Store {
	t.Helper()
	st, err := store.New(client, "test-bucket")
	require.NoError(t, err)
	return st
}

func TestNew_ValidatesBucket(t *testing.T) {
	_, err := store.New(&testutil.MockS3Client{}, "Bad_Bucket")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidBucketName))
}

func TestPutObject(t *testing.T) {
	var got *s3.PutObjectInput
	client := &testutil.MockS3Client{
		PutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			got = params
			return &s3.PutObjectOutput{}, nil
		},
	}
	st := newTestStore(t, client)

	body := strings.NewReader("hello world")
	err := st.PutObject(context.Background(), "docs/readme.txt", body, 11)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "test-bucket", aws.ToString(got.Bucket))
	assert.Equal(t, "docs/readme.txt", aws.ToString(got.Key))
	assert.Equal(t, int64(11), aws.ToInt64(got.ContentLength))
	assert.NotEmpty(t, aws.ToString(got.ContentType))
}

func TestPutObject_InvalidKey(t *testing.T) {
	st := newTestStore(t, &testutil.MockS3Client{})

	err := st.PutObject(context.Background(), "../escape", strings.NewReader(""), 0)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidObjectKey))
}

func TestUploadPart_WirePartNumber(t *testing.T) {
	var got *s3.UploadPartInput
	client := &testutil.MockS3Client{
		UploadPartFunc: func(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			got = params
			return &s3.UploadPartOutput{ETag: aws.String(`"abc123"`)}, nil
		},
	}
	st := newTestStore(t, client)

	etag, err := st.UploadPart(context.Background(), "big.bin", "upl-1", 0, bytes.NewReader([]byte("xx")), 2)
	require.NoError(t, err)

	assert.Equal(t, `"abc123"`, etag)
	// Zero-based part index, one-based wire part number.
	assert.Equal(t, int32(1), aws.ToInt32(got.PartNumber))
	assert.Equal(t, "upl-1", aws.ToString(got.UploadId))
}

func TestCompleteMultipart_AscendingParts(t *testing.T) {
	var got *s3.CompleteMultipartUploadInput
	client := &testutil.MockS3Client{
		CompleteMultipartUploadFunc: func(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			got = params
			return &s3.CompleteMultipartUploadOutput{}, nil
		},
	}
	st := newTestStore(t, client)

	parts := []store.CompletedPart{
		{Index: 0, ETag: "e0"},
		{Index: 1, ETag: "e1"},
		{Index: 2, ETag: "e2"},
	}
	err := st.CompleteMultipart(context.Background(), "big.bin", "upl-1", parts)
	require.NoError(t, err)

	require.Len(t, got.MultipartUpload.Parts, 3)
	for i, p := range got.MultipartUpload.Parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
		assert.Equal(t, fmt.Sprintf("e%d", i), aws.ToString(p.ETag))
	}
}

func TestGetObject_RangeHeader(t *testing.T) {
	var got *s3.GetObjectInput
	client := &testutil.MockS3Client{
		GetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			got = params
			return &s3.GetObjectOutput{
				Body:          io.NopCloser(strings.NewReader("abcd")),
				ContentLength: aws.Int64(4),
			}, nil
		},
	}
	st := newTestStore(t, client)

	body, size, err := st.GetObject(context.Background(), "big.bin", &store.ByteRange{Start: 100, End: 103})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "bytes=100-103", aws.ToString(got.Range))
	assert.Equal(t, int64(4), size)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
}

func TestGetObject_NoRange(t *testing.T) {
	var got *s3.GetObjectInput
	client := &testutil.MockS3Client{
		GetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			got = params
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}
	st := newTestStore(t, client)

	body, _, err := st.GetObject(context.Background(), "big.bin", nil)
	require.NoError(t, err)
	defer body.Close()

	assert.Nil(t, got.Range)
}

func TestHeadObject_MissingIsNotAnError(t *testing.T) {
	client := &testutil.MockS3Client{
		HeadObjectFunc: func(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NotFound"}
		},
	}
	st := newTestStore(t, client)

	info, err := st.HeadObject(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestHeadObject_Exists(t *testing.T) {
	client := &testutil.MockS3Client{
		HeadObjectFunc: func(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{
				ContentLength: aws.Int64(42),
				ETag:          aws.String("e"),
			}, nil
		},
	}
	st := newTestStore(t, client)

	info, err := st.HeadObject(context.Background(), "there")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, int64(42), info.Size)
}

func TestListPage_MapsResults(t *testing.T) {
	client := &testutil.MockS3Client{
		ListObjectsV2Func: func(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			assert.Equal(t, "docs/", aws.ToString(params.Prefix))
			assert.Equal(t, "/", aws.ToString(params.Delimiter))
			return &s3.ListObjectsV2Output{
				Contents: []awstypes.Object{
					{Key: aws.String("docs/a.txt"), Size: aws.Int64(3)},
				},
				CommonPrefixes: []awstypes.CommonPrefix{
					{Prefix: aws.String("docs/sub/")},
				},
				IsTruncated:           aws.Bool(true),
				NextContinuationToken: aws.String("tok-1"),
			}, nil
		},
	}
	st := newTestStore(t, client)

	page, next, err := st.ListPage(context.Background(), "docs/", "/", "", "")
	require.NoError(t, err)

	assert.Equal(t, "tok-1", next)
	assert.True(t, page.Truncated)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "docs/a.txt", page.Objects[0].Key)
	assert.Equal(t, []string{"docs/sub/"}, page.CommonPrefixes)
}

func TestListPage_ContinuationWinsOverStartAfter(t *testing.T) {
	client := &testutil.MockS3Client{
		ListObjectsV2Func: func(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			assert.Equal(t, "tok", aws.ToString(params.ContinuationToken))
			assert.Nil(t, params.StartAfter)
			return &s3.ListObjectsV2Output{}, nil
		},
	}
	st := newTestStore(t, client)

	_, _, err := st.ListPage(context.Background(), "", "", "tok", "marker")
	require.NoError(t, err)
}

func TestDeleteObjects_Batches(t *testing.T) {
	var batches [][]awstypes.ObjectIdentifier
	client := &testutil.MockS3Client{
		DeleteObjectsFunc: func(ctx context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
			batches = append(batches, params.Delete.Objects)
			return &s3.DeleteObjectsOutput{}, nil
		},
	}
	st := newTestStore(t, client)

	keys := make([]string, 1500)
	for i := range keys {
		keys[i] = fmt.Sprintf("k/%04d", i)
	}

	err := st.DeleteObjects(context.Background(), keys)
	require.NoError(t, err)

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 1000)
	assert.Len(t, batches[1], 500)
}

func TestDeleteObjects_SurfacesPerKeyErrors(t *testing.T) {
	client := &testutil.MockS3Client{
		DeleteObjectsFunc: func(ctx context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
			return &s3.DeleteObjectsOutput{
				Errors: []awstypes.Error{
					{
						Key:     aws.String("stuck"),
						Code:    aws.String("AccessDenied"),
						Message: aws.String("nope"),
					},
				},
			}, nil
		},
	}
	st := newTestStore(t, client)

	err := st.DeleteObjects(context.Background(), []string{"stuck"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
}

func TestCopyObject_SourceFormat(t *testing.T) {
	var got *s3.CopyObjectInput
	client := &testutil.MockS3Client{
		CopyObjectFunc: func(ctx context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
			got = params
			return &s3.CopyObjectOutput{}, nil
		},
	}
	st := newTestStore(t, client)

	err := st.CopyObject(context.Background(), "a/old.txt", "a/new.txt")
	require.NoError(t, err)

	assert.Equal(t, "test-bucket/a/old.txt", aws.ToString(got.CopySource))
	assert.Equal(t, "a/new.txt", aws.ToString(got.Key))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"no_such_key", "NoSuchKey", errors.ErrObjectNotFound},
		{"not_found", "NotFound", errors.ErrObjectNotFound},
		{"access_denied", "AccessDenied", errors.ErrAccessDenied},
		{"forbidden", "Forbidden", errors.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &testutil.MockS3Client{
				GetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
					return nil, &smithy.GenericAPIError{Code: tt.code}
				},
			}
			st := newTestStore(t, client)

			_, _, err := st.GetObject(context.Background(), "k", nil)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.want))
		})
	}
}
