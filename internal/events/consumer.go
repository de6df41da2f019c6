package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-updater/internal/database"
	"github.com/maltedev/price-updater/internal/ratelimit"
)

// StreamReader is the subset of the redis client a consumer group needs.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Event is a decoded price stream entry.
type Event struct {
	MessageID string
	Envelope  database.StreamMessage
	Price     PricePayload
}

type Handler func(ctx context.Context, e Event) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Count    int64
	Block    time.Duration
	ErrDelay time.Duration
}

// Consumer reads price events through a redis consumer group and acks each
// entry once the handler accepted it.
type Consumer struct {
	redis   StreamReader
	handle  Handler
	cfg     ConsumerConfig
	delayer ratelimit.Delayer
	logger  *slog.Logger
}

func NewConsumer(client StreamReader, cfg ConsumerConfig, handle Handler, delayer ratelimit.Delayer, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.DefaultPriceStream
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ErrDelay <= 0 {
		cfg.ErrDelay = time.Second
	}
	if delayer == nil {
		delayer = ratelimit.Sleeper{}
	}
	return &Consumer{
		redis:   client,
		handle:  handle,
		cfg:     cfg,
		delayer: delayer,
		logger:  logger.With("component", "consumer", "stream", cfg.Stream, "group", cfg.Group),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("consumer started", "consumer", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			if err := c.delayer.Wait(ctx, c.cfg.ErrDelay); err != nil {
				return err
			}
		}
	}
}

// poll reads one batch and dispatches it. Entries the handler rejects stay
// pending in the group.
func (c *Consumer) poll(ctx context.Context) error {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			event, err := DecodeMessage(msg)
			if err != nil {
				// acked so it leaves the pending list
				c.logger.Warn("dropping malformed message", "id", msg.ID, "error", err)
				c.ack(ctx, msg.ID)
				continue
			}

			if err := c.handle(ctx, event); err != nil {
				c.logger.Error("failed to handle message", "id", msg.ID, "type", event.Envelope.Type, "error", err)
				continue
			}
			c.ack(ctx, msg.ID)
		}
	}
	return nil
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", id, "error", err)
	}
}

// DecodeMessage unpacks the envelope the relay writes into the data field.
func DecodeMessage(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return Event{}, errors.New("missing data field")
	}

	var env database.StreamMessage
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Event{}, fmt.Errorf("failed to parse envelope: %w", err)
	}

	var payload PricePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return Event{}, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
	}

	return Event{MessageID: msg.ID, Envelope: env, Price: payload}, nil
}
