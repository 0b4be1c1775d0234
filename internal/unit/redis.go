package unit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisUnitsKey = "approvals:units:v1"

// RedisLoader shares the unit list between replicas through Redis.
// Misses and Redis failures fall through to next.
type RedisLoader struct {
	rdb  redis.Cmdable
	next Loader
	ttl  time.Duration
	log  zerolog.Logger
}

// NewRedisLoader wraps next with a Redis cache entry that expires after ttl.
func NewRedisLoader(rdb redis.Cmdable, next Loader, ttl time.Duration, log zerolog.Logger) *RedisLoader {
	return &RedisLoader{rdb: rdb, next: next, ttl: ttl, log: log}
}

func (l *RedisLoader) LoadUnits(ctx context.Context) ([]Unit, error) {
	raw, err := l.rdb.Get(ctx, redisUnitsKey).Bytes()
	switch {
	case err == nil:
		var units []Unit
		if jerr := json.Unmarshal(raw, &units); jerr == nil {
			return units, nil
		}
		l.log.Warn().Str("key", redisUnitsKey).Msg("discarding undecodable unit cache entry")
	case !errors.Is(err, redis.Nil):
		l.log.Warn().Err(err).Msg("unit cache read failed, loading from database")
	}

	units, err := l.next.LoadUnits(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(units)
	if err == nil {
		if serr := l.rdb.Set(ctx, redisUnitsKey, data, l.ttl).Err(); serr != nil {
			l.log.Warn().Err(serr).Msg("unit cache write failed")
		}
	}
	return units, nil
}

// Invalidate removes the shared entry, e.g. after the unit tree changes.
func (l *RedisLoader) Invalidate(ctx context.Context) error {
	return l.rdb.Del(ctx, redisUnitsKey).Err()
}
