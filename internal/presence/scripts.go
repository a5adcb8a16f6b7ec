package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// The two compound mutations run as server-side scripts so that concurrent
// register/deregister calls for the same identity never observe or leave a
// half-applied state. Both touch only keys derived from a single channel,
// which the shard router keeps on one node.

// KEYS[1] = data, KEYS[2] = pid, KEYS[3] = cids, KEYS[4] = pids
// ARGV[1] = connectionId, ARGV[2] = identity, ARGV[3] = payload, ARGV[4] = now
//
// Returns 1 if the identity already had live connections in the channel
// before this call, 0 if this is its first one.
var registerScript = redis.NewScript(`
local exists = redis.call('EXISTS', KEYS[3])

redis.call('SET', KEYS[1], ARGV[3])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[2])

return exists
`)

// KEYS[1] = data, KEYS[2] = pid, KEYS[3] = cids, KEYS[4] = pids
// ARGV[1] = connectionId, ARGV[2] = identity
//
// Returns 1 if the identity still has live connections after removal, 0 if
// this was the last one (roster entry and payload are deleted in that case).
var deregisterScript = redis.NewScript(`
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[2])

if redis.call('EXISTS', KEYS[3]) == 1 then
  return 1
end

redis.call('ZREM', KEYS[4], ARGV[2])
redis.call('DEL', KEYS[1])

return 0
`)

func registerMembership(
	ctx context.Context,
	shard *redis.Client,
	channel string,
	connectionId string,
	identity string,
	payload []byte,
	now int64,
) (alreadyPresent bool, err error) {
	keys := []string{
		payloadKey(channel, identity),
		reverseKey(channel, connectionId),
		membersKey(channel, identity),
		rosterKey(channel),
	}

	result, err := registerScript.Run(ctx, shard, keys, connectionId, identity, payload, now).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func deregisterMembership(
	ctx context.Context,
	shard *redis.Client,
	channel string,
	connectionId string,
	identity string,
) (stillPresent bool, err error) {
	keys := []string{
		payloadKey(channel, identity),
		reverseKey(channel, connectionId),
		membersKey(channel, identity),
		rosterKey(channel),
	}

	result, err := deregisterScript.Run(ctx, shard, keys, connectionId, identity).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}
