package storage

import (
	"context"
	"errors"
	"time"
)

// MaxPresignTTL is the longest lifetime a SigV4 (S3 or GCS) signature accepts.
const MaxPresignTTL = 7 * 24 * time.Hour

// ErrObjectNotFound is returned by StatObject for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// FlyerStorage is the object-store surface used by the flyer handlers.
type FlyerStorage interface {
	// PresignGet returns a URL granting read access to the object.
	// ttl 0 asks for the longest lifetime the backend supports.
	PresignGet(ctx context.Context, bucket, objectKey string, ttl time.Duration) (string, error)

	// DeleteObject removes the object. Deleting a missing object succeeds.
	DeleteObject(ctx context.Context, bucket, objectKey string) error

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// URLPolicy reports whether URLs issued for ttl stay readable indefinitely.
type URLPolicy interface {
	PermanentURLs(ttl time.Duration) bool
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
	Updated     time.Time
}

// ClampTTL maps 0 and anything above MaxPresignTTL to MaxPresignTTL.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxPresignTTL {
		return MaxPresignTTL
	}
	return ttl
}
