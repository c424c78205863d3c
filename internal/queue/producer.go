package queue

import (
	"context"
	"encoding/json"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"github.com/go-redis/redis/v8"
)

type Producer struct {
	client *redis.Client
	cfg    *config.Config
}

func NewProducer(redisClient *RedisClient, cfg *config.Config) *Producer {
	return &Producer{
		client: redisClient.Client(),
		cfg:    cfg,
	}
}

func (p *Producer) EnqueueRunJob(ctx context.Context, job model.RunJob) error {
	return p.push(ctx, p.cfg.Redis.RunQueue, job)
}

func (p *Producer) EnqueueRuleImportJob(ctx context.Context, job model.RuleImportJob) error {
	return p.push(ctx, p.cfg.Redis.RuleImportQueue, job)
}

func (p *Producer) push(ctx context.Context, queueName string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return p.client.LPush(ctx, queueName, data).Err()
}
