package unread

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis2 "PRelay/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//   unread:<user>:<chatType>:<target>    counter
//   lastread:<user>:<target>             pointer (groupId convention)
//   seen:<messageId>                     SET of userIds
//   dirty:unread / dirty:lastread        SET of "<user>|<target>|<chatType>"
//
// Counters clamp at 0 and pointers only move forward inside Lua, so the
// invariants hold under any interleaving across both front-end processes.

// decrement clamped at zero
var luaDecrClamp = redis.NewScript(`
local v = redis.call('DECRBY', KEYS[1], ARGV[1])
if v < 0 then
  redis.call('SET', KEYS[1], 0)
  v = 0
end
return v
`)

// conditional max-set, returns the resulting pointer
var luaSetMax = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '-1')
local v = tonumber(ARGV[1])
if v > cur then
  redis.call('SET', KEYS[1], v)
  return v
end
return cur
`)

// prune a flushed key only while it still holds the flushed value; a key
// mutated since the snapshot keeps both its value and its dirty marker so
// the next run flushes the newer state
var luaClearIfUnchanged = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
  redis.call('SREM', KEYS[2], ARGV[2])
  return 1
end
if cur == ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

const (
	dirtyUnreadKey   = "dirty:unread"
	dirtyLastReadKey = "dirty:lastread"
	seenTTL          = 7 * 24 * time.Hour
)

type RedisStore struct{}

func NewRedisStore() *RedisStore { return &RedisStore{} }

func unreadKey(k Key) string {
	return "unread:" + k.UserID + ":" + k.ChatType + ":" + k.TargetID
}

func lastReadKey(k Key) string {
	return "lastread:" + k.UserID + ":" + k.TargetID
}

func seenKey(messageID string) string { return "seen:" + messageID }

func dirtyMember(k Key) string {
	return k.UserID + "|" + k.TargetID + "|" + k.ChatType
}

func parseDirtyMember(m string) (Key, bool) {
	parts := strings.SplitN(m, "|", 3)
	if len(parts) != 3 {
		return Key{}, false
	}
	return Key{UserID: parts[0], TargetID: parts[1], ChatType: parts[2]}, true
}

func (s *RedisStore) IncrUnread(ctx context.Context, k Key) (int64, error) {
	pipe := redis2.GetRedis().TxPipeline()
	incr := pipe.Incr(ctx, unreadKey(k))
	pipe.SAdd(ctx, dirtyUnreadKey, dirtyMember(k))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "unread incr")
	}
	return incr.Val(), nil
}

func (s *RedisStore) DecrUnread(ctx context.Context, k Key) (int64, error) {
	n, err := luaDecrClamp.Run(ctx, redis2.GetRedis(), []string{unreadKey(k)}, 1).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "unread decr")
	}
	if err := redis2.GetRedis().SAdd(ctx, dirtyUnreadKey, dirtyMember(k)).Err(); err != nil {
		return n, errors.Wrap(err, "unread decr dirty")
	}
	return n, nil
}

func (s *RedisStore) SetUnread(ctx context.Context, k Key, n int64) error {
	if err := redis2.GetRedis().Set(ctx, unreadKey(k), n, 0).Err(); err != nil {
		return errors.Wrap(err, "unread set")
	}
	return nil
}

func (s *RedisStore) ResetUnread(ctx context.Context, k Key) error {
	pipe := redis2.GetRedis().TxPipeline()
	pipe.Set(ctx, unreadKey(k), 0, 0)
	pipe.SAdd(ctx, dirtyUnreadKey, dirtyMember(k))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "unread reset")
	}
	return nil
}

func (s *RedisStore) GetUnread(ctx context.Context, k Key) (int64, bool, error) {
	v, err := redis2.GetRedis().Get(ctx, unreadKey(k)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "unread get")
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, true, nil
}

func (s *RedisStore) SetLastReadMax(ctx context.Context, k Key, messageID int64) (int64, error) {
	n, err := luaSetMax.Run(ctx, redis2.GetRedis(), []string{lastReadKey(k)}, messageID).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "lastread setmax")
	}
	if err := redis2.GetRedis().SAdd(ctx, dirtyLastReadKey, dirtyMember(k)).Err(); err != nil {
		return n, errors.Wrap(err, "lastread dirty")
	}
	return n, nil
}

func (s *RedisStore) GetLastRead(ctx context.Context, k Key) (int64, bool, error) {
	v, err := redis2.GetRedis().Get(ctx, lastReadKey(k)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "lastread get")
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, true, nil
}

func (s *RedisStore) MarkSeen(ctx context.Context, messageID, userID string) error {
	pipe := redis2.GetRedis().TxPipeline()
	pipe.SAdd(ctx, seenKey(messageID), userID)
	pipe.Expire(ctx, seenKey(messageID), seenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "seen add")
	}
	return nil
}

func (s *RedisStore) SeenCount(ctx context.Context, messageID string) (int64, error) {
	n, err := redis2.GetRedis().SCard(ctx, seenKey(messageID)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "seen count")
	}
	return n, nil
}

func (s *RedisStore) PendingLastRead(ctx context.Context) ([]LastReadEntry, error) {
	rdb := redis2.GetRedis()
	members, err := rdb.SMembers(ctx, dirtyLastReadKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "lastread pending")
	}
	out := make([]LastReadEntry, 0, len(members))
	for _, m := range members {
		k, ok := parseDirtyMember(m)
		if !ok {
			continue
		}
		v, verr := rdb.Get(ctx, lastReadKey(k)).Result()
		if errors.Is(verr, redis.Nil) {
			continue
		}
		if verr != nil {
			return nil, errors.Wrap(verr, "lastread pending value")
		}
		id, _ := strconv.ParseInt(v, 10, 64)
		out = append(out, LastReadEntry{Key: k, MessageID: id})
	}
	return out, nil
}

func (s *RedisStore) PendingUnread(ctx context.Context) ([]UnreadEntry, error) {
	rdb := redis2.GetRedis()
	members, err := rdb.SMembers(ctx, dirtyUnreadKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "unread pending")
	}
	out := make([]UnreadEntry, 0, len(members))
	for _, m := range members {
		k, ok := parseDirtyMember(m)
		if !ok {
			continue
		}
		v, verr := rdb.Get(ctx, unreadKey(k)).Result()
		if errors.Is(verr, redis.Nil) {
			continue
		}
		if verr != nil {
			return nil, errors.Wrap(verr, "unread pending value")
		}
		n, _ := strconv.ParseInt(v, 10, 64)
		out = append(out, UnreadEntry{Key: k, Count: n})
	}
	return out, nil
}

func (s *RedisStore) ClearLastRead(ctx context.Context, entries []LastReadEntry) error {
	rdb := redis2.GetRedis()
	for _, e := range entries {
		err := luaClearIfUnchanged.Run(ctx, rdb,
			[]string{lastReadKey(e.Key), dirtyLastReadKey},
			e.MessageID, dirtyMember(e.Key)).Err()
		if err != nil {
			return errors.Wrap(err, "lastread clear")
		}
	}
	return nil
}

func (s *RedisStore) ClearUnread(ctx context.Context, entries []UnreadEntry) error {
	rdb := redis2.GetRedis()
	for _, e := range entries {
		err := luaClearIfUnchanged.Run(ctx, rdb,
			[]string{unreadKey(e.Key), dirtyUnreadKey},
			e.Count, dirtyMember(e.Key)).Err()
		if err != nil {
			return errors.Wrap(err, "unread clear")
		}
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
