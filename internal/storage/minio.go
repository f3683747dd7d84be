package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

// minioAPI is the subset of *minio.Client used here.
type minioAPI interface {
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioClient implements ObjectStore for MinIO and other S3-compatible services.
type MinioClient struct {
	client minioAPI
}

var disableMinioRetries sync.Once

// NewMinioClient builds a MinioClient. minio-go retries internally by
// default. The first call sets the package-wide minio.MaxRetry to 1 so every
// request is a single attempt; this applies to all minio clients in the
// process.
func NewMinioClient(cfg Config) (*MinioClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials must be provided")
	}

	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		secure = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	disableMinioRetries.Do(func() {
		minio.MaxRetry = 1
	})

	client, err := minio.New(strings.TrimSuffix(endpoint, "/"), &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       region(cfg),
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &MinioClient{client: client}, nil
}

func (c *MinioClient) Fetch(ctx context.Context, addr domain.ObjectAddress) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, addr.Bucket, addr.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(OpFetch, addr, minioErrorCode(err), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(OpFetch, addr, minioErrorCode(err), err)
	}
	return data, nil
}

func (c *MinioClient) Store(ctx context.Context, addr domain.ObjectAddress, data []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, addr.Bucket, addr.Key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return classify(OpStore, addr, minioErrorCode(err), err)
	}
	return nil
}

// Copy leaves ReplaceMetadata unset, which is minio's COPY directive.
func (c *MinioClient) Copy(ctx context.Context, src, dst domain.ObjectAddress) error {
	_, err := c.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dst.Bucket, Object: dst.Key},
		minio.CopySrcOptions{Bucket: src.Bucket, Object: src.Key},
	)
	if err != nil {
		return classifyCopy(src, dst, minioErrorCode(err), err)
	}
	return nil
}

func (c *MinioClient) Delete(ctx context.Context, addr domain.ObjectAddress) error {
	if err := c.client.RemoveObject(ctx, addr.Bucket, addr.Key, minio.RemoveObjectOptions{}); err != nil {
		return classify(OpDelete, addr, minioErrorCode(err), err)
	}
	return nil
}

func minioErrorCode(err error) string {
	resp := minio.ToErrorResponse(err)
	if resp.Code != "" {
		return resp.Code
	}
	if resp.StatusCode == 404 {
		return "NotFound"
	}
	return ""
}

var (
	_ ObjectStore = (*MinioClient)(nil)
	_ minioAPI    = (*minio.Client)(nil)
)
