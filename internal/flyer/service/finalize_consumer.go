package service

import (
	"context"
	"errors"

	"eventflyer/internal/common/mq"
	"eventflyer/internal/flyer/model"
	"eventflyer/pkg/utils/logger"

	"go.uber.org/zap"
)

// FinalizeConsumer feeds object-store notifications into the attach handler.
type FinalizeConsumer struct {
	mqClient mq.MessageQueue
	attach   *AttachService
}

func NewFinalizeConsumer(mqClient mq.MessageQueue, attach *AttachService) *FinalizeConsumer {
	return &FinalizeConsumer{mqClient: mqClient, attach: attach}
}

// Subscribe registers the handler on topic and starts consuming.
func (c *FinalizeConsumer) Subscribe(ctx context.Context, topic string, opts *mq.SubscribeOptions) error {
	if c == nil || c.mqClient == nil {
		return errors.New("message queue is nil")
	}
	if topic == "" {
		return errors.New("notification topic is required")
	}
	if err := c.mqClient.SubscribeWithOptions(ctx, topic, c.HandleMessage, opts); err != nil {
		return err
	}
	return c.mqClient.Start()
}

// HandleMessage processes one notification. Malformed payloads are acked;
// URL generation failures are returned so the queue redelivers.
func (c *FinalizeConsumer) HandleMessage(ctx context.Context, message *mq.Message) error {
	ctx = withInvocation(ctx)
	objects, err := model.DecodeObjectNotification(message.Body, message.Headers)
	if err != nil {
		logger.Warn(ctx, "drop malformed object notification", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	for _, obj := range objects {
		result, err := c.attach.HandleObjectFinalized(ctx, obj)
		if err != nil {
			return err
		}
		logger.Debug(ctx, "object notification handled",
			zap.String("message_id", message.ID),
			zap.String("object", obj.Name),
			zap.String("result", string(result)),
		)
	}
	return nil
}
