package service

import (
	"context"
	stderrors "errors"
	"time"

	"eventflyer/internal/common/storage"
	"eventflyer/internal/flyer/model"
	"eventflyer/internal/flyer/naming"
	"eventflyer/internal/flyer/repository"
	"eventflyer/pkg/errors"
	"eventflyer/pkg/utils/logger"

	"go.uber.org/zap"
)

// AttachResult describes what HandleObjectFinalized did with an object.
type AttachResult string

const (
	AttachSkippedNotImage      AttachResult = "skipped_not_image"
	AttachSkippedOutsidePrefix AttachResult = "skipped_outside_prefix"
	AttachSkippedBadName       AttachResult = "skipped_bad_name"
	AttachUpdated              AttachResult = "updated"
	AttachUpdateFailed         AttachResult = "update_failed"
)

// AttachOptions controls the attachment handler.
type AttachOptions struct {
	// URLTTL is the lifetime requested for read URLs; 0 asks the backend
	// for its longest.
	URLTTL time.Duration
}

// AttachService links uploaded flyer images to their events.
type AttachService struct {
	repo    repository.EventRepository
	storage storage.FlyerStorage
	urlTTL  time.Duration
}

func NewAttachService(repo repository.EventRepository, store storage.FlyerStorage, opts AttachOptions) *AttachService {
	return &AttachService{
		repo:    repo,
		storage: store,
		urlTTL:  opts.URLTTL,
	}
}

// HandleObjectFinalized sets flyerUrl on the event named by a flyer upload.
// Only URL generation failures are returned; a failed record update is
// logged and reported as AttachUpdateFailed.
func (s *AttachService) HandleObjectFinalized(ctx context.Context, obj model.ObjectFinalized) (AttachResult, error) {
	fields := []zap.Field{zap.String("bucket", obj.Bucket), zap.String("object", obj.Name)}

	if !naming.IsImageContentType(obj.ContentType) {
		logger.Info(ctx, "object is not an image", append(fields, zap.String("content_type", obj.ContentType))...)
		return AttachSkippedNotImage, nil
	}
	if !naming.IsFlyerObject(obj.Name) {
		logger.Info(ctx, "object is not under the flyer prefix", fields...)
		return AttachSkippedOutsidePrefix, nil
	}
	eventID, err := naming.EventIDFromObjectName(obj.Name)
	if err != nil {
		logger.Warn(ctx, "derive event id failed", append(fields, zap.Error(err))...)
		return AttachSkippedBadName, nil
	}
	fields = append(fields, zap.String("event_id", eventID))

	url, err := s.storage.PresignGet(ctx, obj.Bucket, obj.Name, s.urlTTL)
	if err != nil {
		logger.Error(ctx, "generate flyer url failed", append(fields, zap.Error(err))...)
		return "", errors.Wrapf(err, errors.FlyerAttachFailed, "generate url for %s", obj.Name)
	}

	if err := s.repo.SetFlyerURL(ctx, eventID, url); err != nil {
		logger.Error(ctx, "update event with flyer failed", append(fields, zap.Error(err))...)
		return AttachUpdateFailed, nil
	}
	logger.Info(ctx, "event updated with flyer", fields...)
	return AttachUpdated, nil
}

// AttachExisting replays a finalize for an object already in the store.
// The stored content type wins; contentType only fills in when the object
// has none.
func (s *AttachService) AttachExisting(ctx context.Context, bucket, name, contentType string) (AttachResult, error) {
	stat, err := s.storage.StatObject(ctx, bucket, name)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotFound) {
			return "", errors.Newf(errors.FlyerObjectNotFound, "object %s not found in %s", name, bucket)
		}
		return "", errors.Wrapf(err, errors.FlyerAttachFailed, "stat %s", name)
	}
	if stat.ContentType != "" {
		contentType = stat.ContentType
	}
	return s.HandleObjectFinalized(ctx, model.ObjectFinalized{
		Bucket:      bucket,
		Name:        name,
		ContentType: contentType,
		Size:        stat.SizeBytes,
		ETag:        stat.ETag,
	})
}
