package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eventflyer/pkg/utils/logger"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// PubSubConfig defines configuration for the Cloud Pub/Sub implementation.
type PubSubConfig struct {
	ProjectID string `yaml:"projectID"`

	// Subscription is used when SubscribeOptions.ConsumerGroup is empty.
	Subscription string `yaml:"subscription"`

	// CredentialsFile is optional; application default credentials apply otherwise.
	CredentialsFile string `yaml:"credentialsFile"`
}

// PubSubQueue implements MessageQueue on Cloud Pub/Sub. Handler errors nack
// the message and redelivery is left to the subscription's retry policy.
type PubSubQueue struct {
	config PubSubConfig
	client *pubsub.Client

	mu            sync.Mutex
	subscriptions []*pubsubSubscription
	started       bool
	closed        bool
}

type pubsubSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// receiveErr holds the error a receiver stopped with, if any.
	errMu      sync.Mutex
	receiveErr error
}

func (s *pubsubSubscription) setErr(err error) {
	s.errMu.Lock()
	s.receiveErr = err
	s.errMu.Unlock()
}

func (s *pubsubSubscription) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.receiveErr
}

// NewPubSubQueue dials Pub/Sub for cfg.ProjectID.
func NewPubSubQueue(ctx context.Context, cfg PubSubConfig, opts ...option.ClientOption) (*PubSubQueue, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("projectID is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client failed: %w", err)
	}
	return NewPubSubQueueWithClient(client, cfg), nil
}

// NewPubSubQueueWithClient wraps an existing client.
func NewPubSubQueueWithClient(client *pubsub.Client, cfg PubSubConfig) *PubSubQueue {
	return &PubSubQueue{config: cfg, client: client}
}

// Publish publishes a message and waits for the server ack.
func (p *PubSubQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	result := p.client.Topic(topic).Publish(ctx, &pubsub.Message{
		Data:       message.Body,
		Attributes: message.Headers,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	message.ID = id
	return nil
}

// Subscribe subscribes to a topic with default options.
func (p *PubSubQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return p.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions registers handler; the subscription id comes from
// opts.ConsumerGroup, the configured default, or "<topic>-eventflyer".
func (p *PubSubQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = p.config.Subscription
	}
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = topic + "-eventflyer"
	}

	sub := &pubsubSubscription{
		topic:   topic,
		handler: handler,
		opts:    options,
		baseCtx: ctx,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("message queue is closed")
	}
	p.subscriptions = append(p.subscriptions, sub)
	if p.started {
		p.startSubscription(sub)
	}
	return nil
}

// Start starts receiving on every registered subscription.
func (p *PubSubQueue) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("message queue is closed")
	}
	if p.started {
		return nil
	}
	for _, sub := range p.subscriptions {
		p.startSubscription(sub)
	}
	p.started = true
	return nil
}

func (p *PubSubQueue) startSubscription(sub *pubsubSubscription) {
	base := sub.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	sub.cancel = cancel
	sub.setErr(nil)

	s := p.client.Subscription(sub.opts.ConsumerGroup)
	s.ReceiveSettings.NumGoroutines = 1
	s.ReceiveSettings.MaxOutstandingMessages = sub.opts.Concurrency

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		// Receive returns nil once ctx is canceled; anything else means the
		// subscription stopped for good and Ping reports it.
		err := s.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			m := fromPubSubMessage(msg)
			m.MaxRetries = sub.opts.MaxRetries
			if err := sub.handler(ctx, m); err != nil {
				if m.RetryCount >= m.MaxRetries && sub.opts.DeadLetterTopic != "" {
					if p.Publish(ctx, sub.opts.DeadLetterTopic, m) == nil {
						msg.Ack()
						return
					}
				}
				msg.Nack()
				return
			}
			msg.Ack()
		})
		if err != nil && ctx.Err() == nil {
			logger.Error(ctx, "pubsub receiver stopped",
				zap.String("topic", sub.topic),
				zap.String("subscription", sub.opts.ConsumerGroup),
				zap.Error(err),
			)
			sub.setErr(err)
		}
	}()
}

// Stop cancels all receivers and waits for in-flight handlers.
func (p *PubSubQueue) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range p.subscriptions {
		sub.wg.Wait()
	}
	p.started = false
	return nil
}

// Ping fails when a receiver has stopped with an error or when any
// subscription in use does not exist.
func (p *PubSubQueue) Ping(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.subscriptions)+1)
	seen := make(map[string]bool)
	if p.config.Subscription != "" {
		ids = append(ids, p.config.Subscription)
		seen[p.config.Subscription] = true
	}
	for _, sub := range p.subscriptions {
		if err := sub.err(); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("subscription %s stopped: %w", sub.opts.ConsumerGroup, err)
		}
		if !seen[sub.opts.ConsumerGroup] {
			ids = append(ids, sub.opts.ConsumerGroup)
			seen[sub.opts.ConsumerGroup] = true
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		ok, err := p.client.Subscription(id).Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("subscription %s does not exist", id)
		}
	}
	return nil
}

// Close stops consumers and releases the client.
func (p *PubSubQueue) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.Stop()
	return p.client.Close()
}

func fromPubSubMessage(msg *pubsub.Message) *Message {
	m := &Message{
		ID:        msg.ID,
		Body:      msg.Data,
		Headers:   make(map[string]string, len(msg.Attributes)),
		Timestamp: msg.PublishTime,
	}
	for k, v := range msg.Attributes {
		m.Headers[k] = v
	}
	if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 0 {
		m.RetryCount = *msg.DeliveryAttempt - 1
	}
	return m
}

var _ MessageQueue = (*PubSubQueue)(nil)
