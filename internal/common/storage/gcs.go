package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// farFutureExpiry is the fixed expiry historically used for flyer URLs.
var farFutureExpiry = time.Date(2491, time.March, 9, 0, 0, 0, 0, time.UTC)

// GCSConfig holds settings for Google Cloud Storage.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`

	// SigningScheme is "v4" (default) or "v2".
	SigningScheme string `yaml:"signingScheme"`

	// GoogleAccessID and PrivateKeyFile sign locally; when empty the client
	// falls back to the credentials it was created with.
	GoogleAccessID  string `yaml:"googleAccessID"`
	PrivateKeyFile  string `yaml:"privateKeyFile"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// GCSStorage implements FlyerStorage on Cloud Storage.
type GCSStorage struct {
	client     *storage.Client
	scheme     storage.SigningScheme
	accessID   string
	privateKey []byte
	now        func() time.Time
}

// NewGCSStorage creates a storage client from cfg.
func NewGCSStorage(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSStorage, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client failed: %w", err)
	}
	s, err := NewGCSStorageWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewGCSStorageWithClient wraps an existing client.
func NewGCSStorageWithClient(client *storage.Client, cfg GCSConfig) (*GCSStorage, error) {
	s := &GCSStorage{
		client:   client,
		scheme:   storage.SigningSchemeV4,
		accessID: cfg.GoogleAccessID,
		now:      time.Now,
	}
	switch cfg.SigningScheme {
	case "", "v4":
	case "v2":
		s.scheme = storage.SigningSchemeV2
	default:
		return nil, fmt.Errorf("unknown signing scheme %q", cfg.SigningScheme)
	}
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key failed: %w", err)
		}
		s.privateKey = key
	}
	return s, nil
}

// PresignGet signs a GET URL. V4 signatures are capped at MaxPresignTTL;
// V2 with ttl 0 expires on the far-future date.
func (s *GCSStorage) PresignGet(ctx context.Context, bucket, objectKey string, ttl time.Duration) (string, error) {
	if objectKey == "" {
		return "", fmt.Errorf("objectKey is required")
	}
	opts := &storage.SignedURLOptions{
		Scheme:         s.scheme,
		Method:         http.MethodGet,
		Expires:        s.expiry(ttl),
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
	}
	u, err := s.client.Bucket(bucket).SignedURL(objectKey, opts)
	if err != nil {
		return "", fmt.Errorf("gcs signed url %q/%q failed: %w", bucket, objectKey, err)
	}
	return u, nil
}

func (s *GCSStorage) expiry(ttl time.Duration) time.Time {
	if s.scheme == storage.SigningSchemeV2 {
		if ttl <= 0 {
			return farFutureExpiry
		}
		return s.now().Add(ttl)
	}
	return s.now().Add(ClampTTL(ttl))
}

// PermanentURLs is true for V2 signing without a ttl.
func (s *GCSStorage) PermanentURLs(ttl time.Duration) bool {
	return s.scheme == storage.SigningSchemeV2 && ttl <= 0
}

func (s *GCSStorage) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	if objectKey == "" {
		return fmt.Errorf("objectKey is required")
	}
	err := s.client.Bucket(bucket).Object(objectKey).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete object failed: %w", err)
	}
	return nil
}

func (s *GCSStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	attrs, err := s.client.Bucket(bucket).Object(objectKey).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ObjectStat{}, ErrObjectNotFound
		}
		return ObjectStat{}, fmt.Errorf("gcs stat object failed: %w", err)
	}
	return ObjectStat{
		SizeBytes:   attrs.Size,
		ETag:        attrs.Etag,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}, nil
}

// Close releases the underlying client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

var _ FlyerStorage = (*GCSStorage)(nil)
