package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RunLock keeps at most one sync run active across all processes.
type RunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRunLock(redisClient *RedisClient, ttl time.Duration) *RunLock {
	return &RunLock{
		client: redisClient.Client(),
		key:    redisClient.Key("run", "lock"),
		ttl:    ttl,
		log:    logger.Component("run-lock"),
	}
}

// Acquire takes the lock or fails with ErrRunInProgress. The TTL bounds how
// long a crashed holder can block later runs.
func (l *RunLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrRunInProgress
	}

	l.log.Debug().Str("token", token).Msg("Run lock acquired")
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.log.Error().Err(err).Msg("Failed to release run lock")
		}
	}
	return release, nil
}
