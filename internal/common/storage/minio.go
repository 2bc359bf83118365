package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`

	// Region skips the bucket-location lookup before signing.
	Region string `yaml:"region"`

	// PublicBaseURL, when set, makes PresignGet return unsigned
	// <base>/<bucket>/<key> URLs for anonymously readable buckets.
	PublicBaseURL string `yaml:"publicBaseURL"`
}

// MinIOStorage implements FlyerStorage using MinIO S3-compatible APIs.
type MinIOStorage struct {
	core       *minio.Core
	publicBase string
}

func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("minio accessKey is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio secretKey is required")
	}
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio core failed: %w", err)
	}
	return &MinIOStorage{
		core:       core,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// PresignGet signs a GET for at most MaxPresignTTL.
func (s *MinIOStorage) PresignGet(ctx context.Context, bucket, objectKey string, ttl time.Duration) (string, error) {
	if objectKey == "" {
		return "", fmt.Errorf("objectKey is required")
	}
	if s.publicBase != "" {
		return s.publicBase + "/" + bucket + "/" + escapeKey(objectKey), nil
	}
	u, err := s.core.Presign(ctx, http.MethodGet, bucket, objectKey, ClampTTL(ttl), nil)
	if err != nil {
		return "", fmt.Errorf("minio presign get failed: %w", err)
	}
	return u.String(), nil
}

// PermanentURLs is true only for the public base URL mode.
func (s *MinIOStorage) PermanentURLs(time.Duration) bool {
	return s.publicBase != ""
}

func (s *MinIOStorage) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	if objectKey == "" {
		return fmt.Errorf("objectKey is required")
	}
	err := s.core.Client.RemoveObject(ctx, bucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("minio remove object failed: %w", err)
	}
	return nil
}

func (s *MinIOStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	info, err := s.core.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectStat{}, ErrObjectNotFound
		}
		return ObjectStat{}, fmt.Errorf("minio stat object failed: %w", err)
	}
	return ObjectStat{
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
		Updated:     info.LastModified,
	}, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

var _ FlyerStorage = (*MinIOStorage)(nil)
