package presence

import (
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestShardRouter(t *testing.T) {
	clients := []*redis.Client{
		redis.NewClient(&redis.Options{Addr: "node0:6379"}),
		redis.NewClient(&redis.Options{Addr: "node1:6379"}),
		redis.NewClient(&redis.Options{Addr: "node2:6379"}),
	}
	router := NewShardRouterFromClients(clients)
	defer router.Close()

	t.Run("deterministic", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			channel := fmt.Sprintf("presence:room-%d", i)
			assert.Same(t, router.ShardFor(channel), router.ShardFor(channel))
		}
	})

	t.Run("uses every shard", func(t *testing.T) {
		seen := make(map[*redis.Client]int)
		for i := 0; i < 1000; i++ {
			seen[router.ShardFor(fmt.Sprintf("presence:room-%d", i))]++
		}

		assert.Len(t, seen, len(clients))
	})

	t.Run("single node pool routes everything to it", func(t *testing.T) {
		single := NewShardRouterFromClients(clients[:1])
		assert.Same(t, clients[0], single.ShardFor("presence:anything"))
	})
}
