package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/channel-relay/internal/id/uuid"
	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
)

// PubSubConfig locates the topic and subscription backing the bridge.
type PubSubConfig struct {
	ProjectID       string
	Topic           string
	Subscription    string
	ConnectAttempts int
	ConnectDelay    time.Duration
	AckDeadline     time.Duration
}

func (c PubSubConfig) withDefaults() PubSubConfig {
	if c.Topic == "" {
		c.Topic = DefaultQueue
	}
	if c.Subscription == "" {
		c.Subscription = c.Topic + "-consumer"
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 20
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = 3 * time.Second
	}
	if c.AckDeadline <= 0 {
		c.AckDeadline = 60 * time.Second
	}
	return c
}

// PubSub is the Google Cloud Pub/Sub bridge transport.
type PubSub struct {
	client     *pubsub.Client
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	cfg        PubSubConfig
	logger     *zap.Logger
}

// ConnectPubSub dials the broker and makes sure the topic and subscription
// exist, retrying with a fixed delay. Running out of attempts is an error the
// caller should treat as fatal.
func ConnectPubSub(
	ctx context.Context,
	cfg PubSubConfig,
	sleeper relay.Sleeper,
	logger *zap.Logger,
	opts ...option.ClientOption,
) (*PubSub, error) {
	cfg = cfg.withDefaults()
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		ps, err := dialPubSub(ctx, cfg, logger, opts...)
		if err == nil {
			logger.Info("connected to broker",
				zap.String("topic", cfg.Topic),
				zap.String("subscription", cfg.Subscription),
				zap.Int("attempt", attempt),
			)
			return ps, nil
		}
		lastErr = err
		logger.Warn("broker unavailable",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.ConnectAttempts),
			zap.Duration("retry_in", cfg.ConnectDelay),
			zap.Error(err),
		)
		if attempt == cfg.ConnectAttempts {
			break
		}
		if err := sleeper.Sleep(ctx, cfg.ConnectDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connect to broker after %d attempts: %w", cfg.ConnectAttempts, lastErr)
}

func dialPubSub(ctx context.Context, cfg PubSubConfig, logger *zap.Logger, opts ...option.ClientOption) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.Topic)
	sub := fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.Subscription)
	if err := ensureTopic(ctx, client, topic); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := ensureSubscription(ctx, client, sub, topic, cfg.AckDeadline); err != nil {
		_ = client.Close()
		return nil, err
	}
	subscriber := client.Subscriber(sub)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.NumGoroutines = 1
	return &PubSub{
		client:     client,
		publisher:  client.Publisher(topic),
		subscriber: subscriber,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, name string) error {
	_, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err == nil {
		return nil
	}
	if status.Code(err) != grpccodes.NotFound {
		return fmt.Errorf("get topic: %w", err)
	}
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
	if err != nil && status.Code(err) != grpccodes.AlreadyExists {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, name, topic string, ackDeadline time.Duration) error {
	_, err := client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	if err == nil {
		return nil
	}
	if status.Code(err) != grpccodes.NotFound {
		return fmt.Errorf("get subscription: %w", err)
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               name,
		Topic:              topic,
		AckDeadlineSeconds: int32(ackDeadline / time.Second),
	})
	if err != nil && status.Code(err) != grpccodes.AlreadyExists {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

const tracerName = "github.com/JakeFAU/channel-relay/internal/bridge"

// Publish sends the event and waits for the broker to accept it.
func (p *PubSub) Publish(ctx context.Context, e Event) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "publish "+e.Type,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("relay.mark", string(e.Mark)),
			attribute.Int64("relay.post_id", e.PostID),
			attribute.String("relay.source", e.Source),
		),
	)
	defer span.End()

	data, err := Encode(e)
	if err != nil {
		metrics.ObserveEventPublished(string(e.Mark), "invalid")
		return err
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id":   uuid.NewString(),
			"event_type": e.Type,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		metrics.ObserveEventPublished(string(e.Mark), "failed")
		return fmt.Errorf("publish event: %w", err)
	}
	metrics.ObserveEventPublished(string(e.Mark), "ok")
	p.logger.Debug("event published",
		zap.String("message_id", id),
		zap.String("mark", string(e.Mark)),
		zap.Int64("post_id", e.PostID),
	)
	return nil
}

// Consume receives one message at a time until ctx ends.
func (p *PubSub) Consume(ctx context.Context, h HandlerFunc) error {
	err := p.subscriber.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		ctx = otel.GetTextMapPropagator().Extract(ctx, &attributeCarrier{attrs: m.Attributes})
		ctx, span := otel.Tracer(tracerName).Start(ctx, "consume "+m.Attributes["event_type"],
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.message.id", m.ID)),
		)
		defer span.End()
		if process(ctx, m.Data, h, p.logger) {
			m.Ack()
			return
		}
		span.SetStatus(codes.Error, "nacked")
		m.Nack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive events: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (p *PubSub) Close() error {
	p.publisher.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// attributeCarrier implements propagation.TextMapCarrier for message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
