package presence

import (
	"context"

	redis2 "PRelay/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis layout:
//   presence:<routingKey>  ZSET member=userID score=expireAtUnix
//   presence:all           ZSET member=userID score=expireAtUnix
//   presence:keys:<userID> SET of routing keys the user is online on
//   memberships:<userID>   SET of routing keys, TTL hours
//
// Expired members are swept lazily inside the read scripts, so a key never
// reports a user whose TTL lapsed even before the sweeper ran.

// sweep expired members, return the still-valid ones
var luaListActive = redis.NewScript(`
local z   = KEYS[1]
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', z, '-inf', now)
return redis.call('ZRANGEBYSCORE', z, now + 1, '+inf')
`)

// sweep expired members, return count of valid ones
var luaCountActive = redis.NewScript(`
local z   = KEYS[1]
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', z, '-inf', now)
return redis.call('ZCOUNT', z, now + 1, '+inf')
`)

// remove one key's presence; the aggregate entry goes only when the user's
// last key went offline
var luaMarkOffline = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[2])
if redis.call('SCARD', KEYS[2]) == 0 then
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return 1
`)

type RedisDirectory struct {
	conf Config
}

func NewRedisDirectory(conf Config) *RedisDirectory {
	conf.norm()
	return &RedisDirectory{conf: conf}
}

func presenceKey(routingKey string) string { return "presence:" + routingKey }

func membershipKey(userID string) string { return "memberships:" + userID }

func onlineKeysKey(userID string) string { return "presence:keys:" + userID }

const presenceAllKey = "presence:all"

func (d *RedisDirectory) MarkOnline(ctx context.Context, routingKey, userID string) error {
	now := d.conf.Clock()
	expAt := float64(now.Add(d.conf.TTL).Unix())

	pipe := redis2.GetRedis().TxPipeline()
	pipe.ZAdd(ctx, presenceKey(routingKey), redis.Z{Score: expAt, Member: userID})
	pipe.Expire(ctx, presenceKey(routingKey), d.conf.TTL*2)
	pipe.ZAdd(ctx, presenceAllKey, redis.Z{Score: expAt, Member: userID})
	pipe.SAdd(ctx, onlineKeysKey(userID), routingKey)
	pipe.Expire(ctx, onlineKeysKey(userID), d.conf.TTL*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "presence mark online")
	}
	return nil
}

func (d *RedisDirectory) MarkOffline(ctx context.Context, routingKey, userID string) error {
	err := luaMarkOffline.Run(ctx, redis2.GetRedis(),
		[]string{presenceKey(routingKey), onlineKeysKey(userID), presenceAllKey},
		userID, routingKey).Err()
	if err != nil {
		return errors.Wrap(err, "presence mark offline")
	}
	return nil
}

func (d *RedisDirectory) ListOnline(ctx context.Context, routingKey string) (map[string]struct{}, error) {
	now := d.conf.Clock().Unix()
	users, err := luaListActive.Run(ctx, redis2.GetRedis(), []string{presenceKey(routingKey)}, now).StringSlice()
	if err != nil {
		return nil, errors.Wrap(err, "presence list online")
	}
	out := make(map[string]struct{}, len(users))
	for _, u := range users {
		out[u] = struct{}{}
	}
	return out, nil
}

func (d *RedisDirectory) TotalOnline(ctx context.Context) (int64, error) {
	now := d.conf.Clock().Unix()
	n, err := luaCountActive.Run(ctx, redis2.GetRedis(), []string{presenceAllKey}, now).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "presence total online")
	}
	return n, nil
}

func (d *RedisDirectory) GetMemberships(ctx context.Context, userID string) ([]string, bool, error) {
	rdb := redis2.GetRedis()
	exists, err := rdb.Exists(ctx, membershipKey(userID)).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "membership exists")
	}
	if exists == 0 {
		return nil, false, nil
	}
	keys, err := rdb.SMembers(ctx, membershipKey(userID)).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "membership members")
	}
	return keys, true, nil
}

func (d *RedisDirectory) CacheMemberships(ctx context.Context, userID string, keys []string) error {
	members := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		members = append(members, k)
	}
	pipe := redis2.GetRedis().TxPipeline()
	pipe.Del(ctx, membershipKey(userID))
	if len(members) > 0 {
		pipe.SAdd(ctx, membershipKey(userID), members...)
	}
	pipe.Expire(ctx, membershipKey(userID), d.conf.MembershipTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "membership cache")
	}
	return nil
}

func (d *RedisDirectory) InvalidateMemberships(ctx context.Context, userID string) error {
	if err := redis2.GetRedis().Del(ctx, membershipKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "membership invalidate")
	}
	return nil
}

var _ Directory = (*RedisDirectory)(nil)
