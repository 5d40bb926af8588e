package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindow drops members at or before the cutoff, then admits the
// attempt only while fewer than limit remain. Denied attempts are not stored.
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisLimiter is a sliding-window rate limiter shared by every instance.
// It fails open: when Redis errors the attempt is allowed and logged.
type RedisLimiter struct {
	client *redis.Client
	scope  string
	limit  int
	window time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, scope string, limit int, window time.Duration, log *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		scope:  scope,
		limit:  limit,
		window: window,
		log:    log.Named("ratelimit"),
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, userID string) bool {
	now := l.now()
	key := "crash:ratelimit:" + l.scope + ":" + userID

	allowed, err := slidingWindow.Run(ctx, l.client, []string{key},
		now.Add(-l.window).UnixMicro(),
		now.UnixMicro(),
		l.limit,
		uuid.NewString(),
		l.window.Milliseconds(),
	).Int()
	if err != nil {
		l.log.Warn("rate limit check failed, allowing",
			zap.String("scope", l.scope),
			zap.String("user_id", userID),
			zap.Error(err))
		return true
	}
	return allowed == 1
}
