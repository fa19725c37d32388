package storage

import (
	"context"
	"io"
	"time"

	"slidecast/internal/domain"
)

// ObjectStore is the durable storage backend assets are published to.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	Presign(ctx context.Context, bucket, key string, purpose domain.GrantPurpose, ttl time.Duration) (string, error)
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
}
