package fixer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
)

// Consumer pulls ActionEnvelopes from a Redis Stream consumer group. A
// poison (undecodable) message is acknowledged and logged so it never
// blocks the queue, matching the original's `subscribers.py` handling
// (spec's supplemented-features note).
type Consumer struct {
	redis     *redis.Client
	stream    string
	group     string
	consumer  string
	processor *Processor
	log       *zap.Logger
}

// NewConsumer builds a Consumer against stream/group, creating the group
// if it doesn't already exist.
func NewConsumer(ctx context.Context, client *redis.Client, stream, group, consumerName string, processor *Processor, log *zap.Logger) (*Consumer, error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, err
	}
	return &Consumer{redis: client, stream: stream, group: group, consumer: consumerName, processor: processor, log: log}, nil
}

// Run blocks, pulling and processing envelopes until ctx is cancelled. A
// worker shutdown lets in-flight envelopes reach a terminal incident
// write before returning (spec §5's cancellation semantics); unclaimed
// envelopes remain on the stream for redelivery.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				c.log.Warn("bus read failed, retrying",
					logging.NewFields().Component("fixer").Operation("consume").Error(err).ToLogrus())
				time.Sleep(time.Second)
			}
			continue
		}

		// Messages already claimed from the group are processed and acked
		// even if ctx is cancelled mid-batch.
		processCtx := context.WithoutCancel(ctx)
		for _, stream := range results {
			for _, message := range stream.Messages {
				c.handleMessage(processCtx, message)
			}
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, message redis.XMessage) {
	raw, _ := message.Values["payload"].(string)

	var envelope domain.ActionEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		c.log.Warn("poison message, acknowledging without processing",
			logging.NewFields().Component("fixer").Operation("consume").Error(err).ToLogrus())
		c.ack(ctx, message.ID)
		return
	}

	c.processor.Process(ctx, envelope)
	c.ack(ctx, message.ID)
}

func (c *Consumer) ack(ctx context.Context, messageID string) {
	if err := c.redis.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		c.log.Warn("failed to ack bus message",
			logging.NewFields().Component("fixer").Operation("ack").Custom("message_id", messageID).Error(err).ToLogrus())
	}
}
