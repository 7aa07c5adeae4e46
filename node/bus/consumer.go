package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/node/metrics"
)

// Handler processes one decoded envelope. Returning nil (or a non-retryable
// error) acknowledges the message; a retryable error leaves it pending for
// the reclaim pass.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// NonRetryable marks an error as permanent: the message is acknowledged and
// never redelivered.
type NonRetryable struct {
	Err error
}

func (e NonRetryable) Error() string { return e.Err.Error() }
func (e NonRetryable) Unwrap() error { return e.Err }

// ConsumerConfig holds stream consumer configuration.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string // unique per process; defaults to hostname plus a nonce

	Batch      int64
	Block      time.Duration
	ErrorDelay time.Duration

	// ReclaimMinIdle is how long a pending message sits before another
	// consumer picks it up. Must exceed worst-case handler latency.
	ReclaimMinIdle time.Duration

	// InboxTTL bounds the dedupe window for message ids.
	InboxTTL time.Duration
}

// DefaultConsumerConfig returns defaults for the given stream and group.
func DefaultConsumerConfig(stream, group string) *ConsumerConfig {
	host, _ := os.Hostname()
	return &ConsumerConfig{
		Stream:         stream,
		Group:          group,
		Consumer:       fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		Batch:          16,
		Block:          2 * time.Second,
		ErrorDelay:     time.Second,
		ReclaimMinIdle: 30 * time.Second,
		InboxTTL:       24 * time.Hour,
	}
}

// Consumer is a consumer-group reader with message-id deduplication.
type Consumer struct {
	config  *ConsumerConfig
	rdb     redis.UniversalClient
	handler Handler
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a stream consumer.
func NewConsumer(config *ConsumerConfig, rdb redis.UniversalClient, handler Handler, log *zap.Logger) *Consumer {
	return &Consumer{
		config:  config,
		rdb:     rdb,
		handler: handler,
		log:     log.Named("bus").With(zap.String("group", config.Group)),
	}
}

// Start creates the consumer group if needed and starts the read loop.
func (c *Consumer) Start(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.config.Group, c.config.Stream, err)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop()
	c.log.Info("bus consumer started",
		zap.String("stream", c.config.Stream),
		zap.String("consumer", c.config.Consumer))
	return nil
}

// Stop stops the consumer and waits for the loop to exit.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Consumer) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.Tick(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("bus consumer iteration failed", zap.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.config.ErrorDelay):
			}
		}
	}
}

// Tick runs one reclaim-and-read iteration. Exposed for tests.
func (c *Consumer) Tick(ctx context.Context) error {
	if err := c.reclaim(ctx); err != nil {
		return err
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		Streams:  []string{c.config.Stream, ">"},
		Count:    c.config.Batch,
		Block:    c.config.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("xreadgroup %s: %w", c.config.Stream, err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.process(ctx, msg)
		}
	}
	return nil
}

// reclaim takes over messages another consumer claimed and then abandoned.
func (c *Consumer) reclaim(ctx context.Context) error {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.config.Stream,
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		MinIdle:  c.config.ReclaimMinIdle,
		Start:    "0-0",
		Count:    c.config.Batch,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("xautoclaim %s: %w", c.config.Stream, err)
	}
	for _, msg := range msgs {
		c.process(ctx, msg)
	}
	return nil
}

// process decodes, deduplicates and handles one message, acknowledging it
// unless the handler failed retryably.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	metrics.BusMessagesConsumed.Inc()

	env, err := decodeEnvelope(msg)
	if err != nil {
		// Malformed messages can never succeed; ack and move on.
		c.log.Error("dropping malformed bus message",
			zap.String("streamId", msg.ID), zap.Error(err))
		c.ack(ctx, msg.ID)
		return
	}

	seen, err := c.alreadySeen(ctx, env.MessageID)
	if err != nil {
		c.log.Warn("inbox check failed, leaving message pending",
			zap.String("messageId", env.MessageID), zap.Error(err))
		return
	}
	if seen {
		metrics.BusDuplicatesDropped.Inc()
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler.Handle(ctx, env); err != nil {
		var permanent NonRetryable
		if errors.As(err, &permanent) {
			c.log.Warn("dropping bus message after permanent failure",
				zap.String("messageId", env.MessageID),
				zap.String("type", env.Type),
				zap.Error(err))
			c.markSeen(ctx, env.MessageID)
			c.ack(ctx, msg.ID)
			return
		}
		// Leave pending; the reclaim pass retries after ReclaimMinIdle.
		c.log.Warn("bus handler failed, message will be retried",
			zap.String("messageId", env.MessageID),
			zap.String("type", env.Type),
			zap.Error(err))
		return
	}

	// Marking after success means a crash between handle and mark causes a
	// redelivery, not a loss. Handlers are idempotent, so that is fine.
	c.markSeen(ctx, env.MessageID)
	c.ack(ctx, msg.ID)
}

func (c *Consumer) alreadySeen(ctx context.Context, messageID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.inboxKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Consumer) markSeen(ctx context.Context, messageID string) {
	if err := c.rdb.Set(ctx, c.inboxKey(messageID), 1, c.config.InboxTTL).Err(); err != nil {
		c.log.Warn("inbox mark failed", zap.String("messageId", messageID), zap.Error(err))
	}
}

func (c *Consumer) ack(ctx context.Context, streamID string) {
	if err := c.rdb.XAck(ctx, c.config.Stream, c.config.Group, streamID).Err(); err != nil {
		c.log.Warn("xack failed", zap.String("streamId", streamID), zap.Error(err))
	}
}

func (c *Consumer) inboxKey(messageID string) string {
	return "bus:inbox:" + c.config.Group + ":" + messageID
}

// decodeEnvelope rebuilds an Envelope from stream entry values.
func decodeEnvelope(msg redis.XMessage) (Envelope, error) {
	env := Envelope{
		MessageID:  stringValue(msg.Values, "messageId"),
		Type:       stringValue(msg.Values, "type"),
		OccurredAt: stringValue(msg.Values, "occurredAt"),
		Payload:    json.RawMessage(stringValue(msg.Values, "payload")),
	}
	if env.MessageID == "" || env.Type == "" {
		return env, fmt.Errorf("stream entry %s missing messageId or type", msg.ID)
	}
	return env, nil
}

func stringValue(values map[string]interface{}, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
