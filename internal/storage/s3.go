package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

// s3API is the subset of the SDK client used here.
type s3API interface {
	GetObject(ctx context.Context, in *s3v2.GetObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3v2.PutObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3v2.CopyObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3v2.DeleteObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.DeleteObjectOutput, error)
}

// S3Client implements ObjectStore on top of aws-sdk-go-v2.
type S3Client struct {
	client s3API
}

// NewS3Client loads the default AWS config (env, shared files, IAM role) with
// retries disabled. A non-empty Endpoint targets an S3-compatible service.
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region(cfg)),
		config.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
	}

	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		endpoint = normalizeEndpoint(endpoint, cfg.UseSSL)
		signingRegion := region(cfg)
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				PartitionID:       "aws",
				URL:               endpoint,
				SigningRegion:     signingRegion,
				HostnameImmutable: cfg.PathStyle,
			}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3v2.NewFromConfig(awsCfg, func(o *s3v2.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.AccessKey != "" && cfg.SecretKey != "" {
			o.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""))
		}
	})

	return &S3Client{client: client}, nil
}

func (c *S3Client) Fetch(ctx context.Context, addr domain.ObjectAddress) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3v2.GetObjectInput{
		Bucket: aws.String(addr.Bucket),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return nil, classify(OpFetch, addr, s3ErrorCode(err), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify(OpFetch, addr, "", fmt.Errorf("read body: %w", err))
	}
	return data, nil
}

func (c *S3Client) Store(ctx context.Context, addr domain.ObjectAddress, data []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, &s3v2.PutObjectInput{
		Bucket:      aws.String(addr.Bucket),
		Key:         aws.String(addr.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return classify(OpStore, addr, s3ErrorCode(err), err)
	}
	return nil
}

func (c *S3Client) Copy(ctx context.Context, src, dst domain.ObjectAddress) error {
	_, err := c.client.CopyObject(ctx, &s3v2.CopyObjectInput{
		Bucket:            aws.String(dst.Bucket),
		Key:               aws.String(dst.Key),
		CopySource:        aws.String(copySource(src)),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		return classifyCopy(src, dst, s3ErrorCode(err), err)
	}
	return nil
}

func (c *S3Client) Delete(ctx context.Context, addr domain.ObjectAddress) error {
	_, err := c.client.DeleteObject(ctx, &s3v2.DeleteObjectInput{
		Bucket: aws.String(addr.Bucket),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return classify(OpDelete, addr, s3ErrorCode(err), err)
	}
	return nil
}

// copySource renders the URL-encoded "bucket/key" form CopyObject expects.
// Slashes inside the key are kept.
func copySource(src domain.ObjectAddress) string {
	segments := strings.Split(src.Key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return src.Bucket + "/" + strings.Join(segments, "/")
}

func s3ErrorCode(err error) string {
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	var nf *types.NotFound
	switch {
	case errors.As(err, &nsk):
		return "NoSuchKey"
	case errors.As(err, &nsb):
		return "NoSuchBucket"
	case errors.As(err, &nf):
		return "NotFound"
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, strings.TrimPrefix(endpoint, "//"))
}

var _ ObjectStore = (*S3Client)(nil)
