package domain

import (
	"fmt"
	"strings"
)

// ObjectAddress identifies one object in the object store. Key is always the
// decoded key, never the URL-escaped form carried by notifications.
type ObjectAddress struct {
	Bucket string `json:"bucket" db:"bucket"`
	Key    string `json:"key" db:"key"`
}

// NewObjectAddress returns an address for bucket/key.
func NewObjectAddress(bucket, key string) ObjectAddress {
	return ObjectAddress{Bucket: bucket, Key: key}
}

// IsZero reports whether neither bucket nor key is set.
func (a ObjectAddress) IsZero() bool {
	return a.Bucket == "" && a.Key == ""
}

// Validate checks that both parts of the address are present.
func (a ObjectAddress) Validate() error {
	if strings.TrimSpace(a.Bucket) == "" {
		return fmt.Errorf("bucket name must be provided")
	}
	if a.Key == "" {
		return fmt.Errorf("object key must be provided")
	}
	return nil
}

func (a ObjectAddress) String() string {
	return fmt.Sprintf("s3://%s/%s", a.Bucket, a.Key)
}
