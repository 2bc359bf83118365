package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// GCS notification attributes.
	AttrEventType = "eventType"
	AttrBucketID  = "bucketId"
	AttrObjectID  = "objectId"

	GCSEventFinalize = "OBJECT_FINALIZE"

	s3CreatedPrefix = "s3:ObjectCreated:"
)

// ErrMalformedNotification is returned for payloads that match neither
// supported notification format.
var ErrMalformedNotification = errors.New("malformed object notification")

// ObjectFinalized describes an object that finished uploading.
type ObjectFinalized struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag"`
}

type s3Notification struct {
	EventName string     `json:"EventName"`
	Records   []s3Record `json:"Records"`
}

type s3Record struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key         string `json:"key"`
			Size        int64  `json:"size"`
			ETag        string `json:"eTag"`
			ContentType string `json:"contentType"`
		} `json:"object"`
	} `json:"s3"`
}

type gcsObject struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
	ETag        string `json:"etag"`
}

// DecodeObjectNotification extracts finalized objects from an S3/MinIO
// bucket notification or a GCS Pub/Sub notification. Events other than
// object creation decode to an empty slice.
func DecodeObjectNotification(body []byte, attrs map[string]string) ([]ObjectFinalized, error) {
	if eventType, ok := attrs[AttrEventType]; ok {
		if eventType != GCSEventFinalize {
			return nil, nil
		}
		return decodeGCS(body, attrs)
	}

	var n s3Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if len(n.Records) == 0 {
		// GCS payload relayed without its attributes.
		return decodeGCS(body, attrs)
	}

	out := make([]ObjectFinalized, 0, len(n.Records))
	for _, r := range n.Records {
		if !strings.HasPrefix(r.EventName, s3CreatedPrefix) {
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: object key %q: %v", ErrMalformedNotification, r.S3.Object.Key, err)
		}
		if r.S3.Bucket.Name == "" || key == "" {
			return nil, fmt.Errorf("%w: record without bucket or key", ErrMalformedNotification)
		}
		out = append(out, ObjectFinalized{
			Bucket:      r.S3.Bucket.Name,
			Name:        key,
			ContentType: r.S3.Object.ContentType,
			Size:        r.S3.Object.Size,
			ETag:        r.S3.Object.ETag,
		})
	}
	return out, nil
}

func decodeGCS(body []byte, attrs map[string]string) ([]ObjectFinalized, error) {
	var o gcsObject
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if o.Bucket == "" {
		o.Bucket = attrs[AttrBucketID]
	}
	if o.Name == "" {
		o.Name = attrs[AttrObjectID]
	}
	if o.Bucket == "" || o.Name == "" {
		return nil, fmt.Errorf("%w: missing bucket or name", ErrMalformedNotification)
	}
	obj := ObjectFinalized{
		Bucket:      o.Bucket,
		Name:        o.Name,
		ContentType: o.ContentType,
		ETag:        o.ETag,
	}
	if o.Size != "" {
		size, err := strconv.ParseInt(o.Size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: size %q", ErrMalformedNotification, o.Size)
		}
		obj.Size = size
	}
	return []ObjectFinalized{obj}, nil
}
