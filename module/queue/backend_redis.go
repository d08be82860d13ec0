package queue

import (
	"context"
	"strconv"
	"time"

	redis2 "PRelay/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis layout:
//   mq:lane:<lane>   LIST of jobIDs (LPUSH / BRPOP)
//   mq:delayed       ZSET jobID -> readyAtUnix
//   mq:job:<id>      HASH raw/state/lane/created_ms/error
//
// BRPOP over the lane keys in drain order gives priority: the first
// non-empty key in argument order wins.

// move due members from the delayed zset back into their lanes
var luaPromote = redis.NewScript(`
local z   = KEYS[1]
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', z, '-inf', now, 'LIMIT', 0, 128)
for _, id in ipairs(due) do
  redis.call('ZREM', z, id)
  local lane = redis.call('HGET', 'mq:job:' .. id, 'lane')
  if lane then
    redis.call('HSET', 'mq:job:' .. id, 'state', 'queued')
    redis.call('LPUSH', 'mq:lane:' .. lane, id)
  end
end
return #due
`)

const (
	delayedKey  = "mq:delayed"
	terminalTTL = time.Hour // keep terminal status around for status queries
)

type RedisBackend struct{}

func NewRedisBackend() *RedisBackend { return &RedisBackend{} }

func laneKey(lane string) string { return "mq:lane:" + lane }

func jobKey(jobID string) string { return "mq:job:" + jobID }

func (b *RedisBackend) Push(ctx context.Context, lane, jobID string, raw []byte, nowMS int64) error {
	pipe := redis2.GetRedis().TxPipeline()
	pipe.HSet(ctx, jobKey(jobID),
		"raw", raw,
		"state", StateQueued,
		"lane", lane,
		"created_ms", nowMS,
	)
	pipe.LPush(ctx, laneKey(lane), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "queue push")
	}
	return nil
}

func (b *RedisBackend) Pop(ctx context.Context, lanes []string, timeout time.Duration) (string, []byte, bool, error) {
	keys := make([]string, 0, len(lanes))
	for _, l := range lanes {
		keys = append(keys, laneKey(l))
	}
	res, err := redis2.GetRedis().BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, errors.Wrap(err, "queue pop")
	}
	// res = [key, jobID]
	jobID := res[1]
	raw, err := redis2.GetRedis().HGet(ctx, jobKey(jobID), "raw").Result()
	if errors.Is(err, redis.Nil) {
		// deleted between pop and read: treat as cancelled
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, errors.Wrap(err, "queue pop raw")
	}
	_ = redis2.GetRedis().HSet(ctx, jobKey(jobID), "state", StateActive).Err()
	return jobID, []byte(raw), true, nil
}

func (b *RedisBackend) PushDelayed(ctx context.Context, lane, jobID string, raw []byte, readyAt time.Time, nowMS int64) error {
	pipe := redis2.GetRedis().TxPipeline()
	pipe.HSet(ctx, jobKey(jobID),
		"raw", raw,
		"state", StateDelayed,
		"lane", lane,
		"created_ms", nowMS,
	)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.Unix()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "queue push delayed")
	}
	return nil
}

func (b *RedisBackend) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	n, err := luaPromote.Run(ctx, redis2.GetRedis(), []string{delayedKey}, now.Unix()).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "queue promote")
	}
	return int(n), nil
}

func (b *RedisBackend) SetState(ctx context.Context, jobID, state, errMsg string) error {
	rdb := redis2.GetRedis()
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), "state", state, "error", errMsg)
	if state == StateSent || state == StateFailed {
		pipe.Expire(ctx, jobKey(jobID), terminalTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "queue set state")
	}
	return nil
}

func (b *RedisBackend) GetStatus(ctx context.Context, jobID string) (*JobStatus, bool, error) {
	vals, err := redis2.GetRedis().HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "queue status")
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	created, _ := strconv.ParseInt(vals["created_ms"], 10, 64)
	return &JobStatus{
		State:       vals["state"],
		Lane:        vals["lane"],
		CreatedAtMS: created,
		Error:       vals["error"],
	}, true, nil
}

func (b *RedisBackend) Remove(ctx context.Context, jobID string) (bool, error) {
	rdb := redis2.GetRedis()
	lane, err := rdb.HGet(ctx, jobKey(jobID), "lane").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "queue remove lane")
	}

	pipe := rdb.TxPipeline()
	lrem := pipe.LRem(ctx, laneKey(lane), 0, jobID)
	zrem := pipe.ZRem(ctx, delayedKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "queue remove")
	}
	removed := lrem.Val() > 0 || zrem.Val() > 0
	if removed {
		_ = rdb.Del(ctx, jobKey(jobID)).Err()
	}
	return removed, nil
}

func (b *RedisBackend) Depth(ctx context.Context, lane string) (int64, error) {
	n, err := redis2.GetRedis().LLen(ctx, laneKey(lane)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "queue depth")
	}
	return n, nil
}

var _ Backend = (*RedisBackend)(nil)
