package presence

import (
	"hash/fnv"

	"github.com/redis/go-redis/v9"
)

// ShardRouter pins every channel to exactly one Redis node so that the
// multi-key scripts in scripts.go always execute against a single instance.
// The mapping is a pure function of the channel name and the configured node
// ordering; reconfiguring the pool is a deployment concern, not handled here.
type ShardRouter struct {
	shards []*redis.Client
}

func NewShardRouter(addresses []string) *ShardRouter {
	shards := make([]*redis.Client, len(addresses))
	for i, address := range addresses {
		shards[i] = redis.NewClient(&redis.Options{
			Addr: address,
		})
	}

	return &ShardRouter{
		shards: shards,
	}
}

// NewShardRouterFromClients builds a router over pre-configured clients.
// Used by tests and by callers that need custom client options.
func NewShardRouterFromClients(clients []*redis.Client) *ShardRouter {
	return &ShardRouter{
		shards: clients,
	}
}

func (r *ShardRouter) ShardFor(channel string) *redis.Client {
	h := fnv.New32a()
	h.Write([]byte(channel))

	return r.shards[int(h.Sum32())%len(r.shards)]
}

func (r *ShardRouter) Close() error {
	var firstErr error
	for _, shard := range r.shards {
		if err := shard.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
