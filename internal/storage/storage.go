package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

// Operation names used in errors, logs and recorded calls.
const (
	OpFetch  = "fetch"
	OpStore  = "store"
	OpCopy   = "copy"
	OpDelete = "delete"
)

// Drivers understood by New.
const (
	DriverS3     = "s3"
	DriverMinio  = "minio"
	DriverMemory = "memory"
)

// ObjectStore captures the four blocking operations the pipeline needs.
// Implementations make exactly one round-trip per call and never retry.
type ObjectStore interface {
	// Fetch returns the full object body.
	Fetch(ctx context.Context, addr domain.ObjectAddress) ([]byte, error)
	// Store writes data under addr, overwriting any existing object.
	Store(ctx context.Context, addr domain.ObjectAddress, data []byte, contentType string) error
	// Copy performs a server-side copy, keeping the source metadata verbatim.
	Copy(ctx context.Context, src, dst domain.ObjectAddress) error
	// Delete removes the object.
	Delete(ctx context.Context, addr domain.ObjectAddress) error
}

// Config encapsulates the connection info for an S3-compatible store.
type Config struct {
	Driver    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

// New builds the ObjectStore selected by cfg.Driver.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverS3:
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case DriverMinio:
		client, err := NewMinioClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func region(cfg Config) string {
	r := strings.TrimSpace(cfg.Region)
	if r == "" {
		return "us-east-1"
	}
	return r
}
