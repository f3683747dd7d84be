package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

type fakeS3 struct {
	body []byte
	err  error

	put  *s3v2.PutObjectInput
	copy *s3v2.CopyObjectInput
	del  *s3v2.DeleteObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, _ *s3v2.GetObjectInput, _ ...func(*s3v2.Options)) (*s3v2.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3v2.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3v2.PutObjectInput, _ ...func(*s3v2.Options)) (*s3v2.PutObjectOutput, error) {
	f.put = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3v2.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3v2.CopyObjectInput, _ ...func(*s3v2.Options)) (*s3v2.CopyObjectOutput, error) {
	f.copy = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3v2.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3v2.DeleteObjectInput, _ ...func(*s3v2.Options)) (*s3v2.DeleteObjectOutput, error) {
	f.del = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3v2.DeleteObjectOutput{}, nil
}

func TestS3ClientRequests(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{body: []byte("jpeg")}
	client := &S3Client{client: fake}

	src := domain.NewObjectAddress("photos-incoming", "2024/my photo.jpg")
	dst := domain.NewObjectAddress("photos-raw", "2024/my photo.jpg")

	data, err := client.Fetch(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	require.NoError(t, client.Store(ctx, dst, []byte("png"), "image/png"))
	assert.Equal(t, "image/png", aws.ToString(fake.put.ContentType))
	assert.Equal(t, "photos-raw", aws.ToString(fake.put.Bucket))

	require.NoError(t, client.Copy(ctx, src, dst))
	assert.Equal(t, "photos-incoming/2024/my%20photo.jpg", aws.ToString(fake.copy.CopySource))
	assert.Equal(t, types.MetadataDirectiveCopy, fake.copy.MetadataDirective)
	assert.Equal(t, "photos-raw", aws.ToString(fake.copy.Bucket))

	require.NoError(t, client.Delete(ctx, src))
	assert.Equal(t, "2024/my photo.jpg", aws.ToString(fake.del.Key))
}

func TestS3ClientClassifiesErrors(t *testing.T) {
	addr := domain.NewObjectAddress("b", "k")

	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"no such key", &types.NoSuchKey{}, domain.KindNotFound},
		{"no such bucket", &types.NoSuchBucket{}, domain.KindNotFound},
		{"generic not found", &smithy.GenericAPIError{Code: "NotFound"}, domain.KindNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, domain.KindTransient},
		{"network", errors.New("dial tcp: connection refused"), domain.KindTransient},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), domain.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &S3Client{client: &fakeS3{err: tt.err}}
			_, err := client.Fetch(context.Background(), addr)
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestS3ClientCopyErrorNamesBothEnds(t *testing.T) {
	src := domain.NewObjectAddress("photos-incoming", "a.jpg")
	dst := domain.NewObjectAddress("photos-raw", "a.jpg")
	client := &S3Client{client: &fakeS3{err: &types.NoSuchBucket{}}}

	err := client.Copy(context.Background(), src, dst)
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Contains(t, err.Error(), "s3://photos-incoming/a.jpg -> s3://photos-raw/a.jpg")
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "b/k", copySource(domain.NewObjectAddress("b", "k")))
	assert.Equal(t, "b/a/b/c%3Fd.png", copySource(domain.NewObjectAddress("b", "a/b/c?d.png")))
	assert.Equal(t, "b/caf%C3%A9.jpg", copySource(domain.NewObjectAddress("b", "café.jpg")))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", normalizeEndpoint("localhost:9000", false))
	assert.Equal(t, "https://s3.example.com", normalizeEndpoint("s3.example.com", true))
	assert.Equal(t, "http://already", normalizeEndpoint("http://already", true))
}
