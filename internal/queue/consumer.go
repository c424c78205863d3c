package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const requeueTimeout = 5 * time.Second

type Consumer struct {
	client      *redis.Client
	cfg         *config.Config
	pollTimeout time.Duration
	log         zerolog.Logger
}

type MessageHandler func(ctx context.Context, data []byte) error

func NewConsumer(redisClient *RedisClient, cfg *config.Config) *Consumer {
	return &Consumer{
		client:      redisClient.Client(),
		cfg:         cfg,
		pollTimeout: 5 * time.Second,
		log:         logger.Component("queue"),
	}
}

func (c *Consumer) ConsumeRunQueue(ctx context.Context, handler MessageHandler) error {
	return c.consume(ctx, c.cfg.Redis.RunQueue, handler)
}

func (c *Consumer) ConsumeRuleImportQueue(ctx context.Context, handler MessageHandler) error {
	return c.consume(ctx, c.cfg.Redis.RuleImportQueue, handler)
}

func (c *Consumer) consume(ctx context.Context, queueName string, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			result, err := c.client.BRPop(ctx, c.pollTimeout, queueName).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue // Timeout, continue polling
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log.Error().Err(err).Str("queue", queueName).Msg("Failed to consume message")
				time.Sleep(time.Second)
				continue
			}

			if len(result) < 2 {
				continue
			}

			message := result[1]
			if ctx.Err() != nil {
				c.requeue(ctx, queueName, message)
				return ctx.Err()
			}
			if err := handler(ctx, []byte(message)); err != nil {
				if ctx.Err() != nil {
					c.requeue(ctx, queueName, message)
					return ctx.Err()
				}
				c.log.Error().Err(err).Str("queue", queueName).Msg("Failed to process message")
				// Move to DLQ
				dlqName := queueName + c.cfg.Redis.DLQSuffix
				if dlqErr := c.client.LPush(ctx, dlqName, message).Err(); dlqErr != nil {
					c.log.Error().Err(dlqErr).Str("dlq", dlqName).Msg("Failed to move message to DLQ")
				}
			}
		}
	}
}

// requeue returns a message interrupted by shutdown to the consuming end of
// its queue so the next consumer picks it up first.
func (c *Consumer) requeue(ctx context.Context, queueName, message string) {
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	if err := c.client.RPush(pushCtx, queueName, message).Err(); err != nil {
		c.log.Error().Err(err).Str("queue", queueName).Str("message", message).Msg("Failed to requeue message")
		return
	}
	c.log.Warn().Str("queue", queueName).Msg("Message requeued after shutdown")
}
