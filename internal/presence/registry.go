package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zwily/faye-presence/internal/ierr"
	"go.uber.org/zap"
)

// rosterScanCount is the page-size hint for the roster scan in Snapshot.
const rosterScanCount = 100

// Registry tracks which identities are present in which channels. An identity
// is present while at least one of its connections is registered; the first
// registration and the last deregistration are reported back so the gateway
// can broadcast join/leave notifications exactly once.
//
// All serialization of concurrent mutation happens inside the store scripts;
// the registry holds no locks of its own.
type Registry struct {
	logger *zap.Logger
	router *ShardRouter
	oracle LivenessOracle
}

func NewRegistry(
	logger *zap.Logger,
	router *ShardRouter,
	oracle LivenessOracle,
) *Registry {
	return &Registry{
		logger: logger,
		router: router,
		oracle: oracle,
	}
}

// Register associates connectionId with identity in the channel and stores
// its payload, overwriting any previous payload for that identity. It reports
// isNew = true only when the identity had no other live connections in the
// channel, i.e. when a join should be broadcast.
//
// The connection's liveness is checked before and after the store mutation.
// If the connection vanished while the registration was in flight, the
// mutation is compensated with a deregistration and the call fails with
// FailedPrecondition so that no join is ever signaled for a dead connection.
func (r *Registry) Register(
	ctx context.Context,
	channel string,
	connectionId string,
	identity string,
	payload []byte,
) (isNew bool, err error) {
	if channel == "" || connectionId == "" || identity == "" {
		return false, ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("channel, connectionId and identity are required"))
	}

	if !r.oracle.IsConnectionAlive(ctx, connectionId) {
		r.logger.Debug("refusing to register dead connection",
			zap.String("channel", channel),
			zap.String("connectionId", connectionId),
			zap.String("identity", identity))

		return false, ierr.New(ierr.ErrorCodeFailedPrecondition,
			errors.New("connection is not alive"))
	}

	shard := r.router.ShardFor(channel)
	now := time.Now().UnixMilli()

	alreadyPresent, err := registerMembership(ctx, shard, channel, connectionId, identity, payload, now)
	if err != nil {
		return false, storeError(err)
	}

	if !r.oracle.IsConnectionAlive(ctx, connectionId) {
		r.logger.Warn("connection disappeared while registering, compensating",
			zap.String("channel", channel),
			zap.String("connectionId", connectionId),
			zap.String("identity", identity))

		if _, err := deregisterMembership(ctx, shard, channel, connectionId, identity); err != nil {
			r.logger.Error("compensating deregistration failed",
				zap.String("channel", channel),
				zap.String("connectionId", connectionId),
				zap.Error(err))
		}

		return false, ierr.New(ierr.ErrorCodeFailedPrecondition,
			errors.New("connection disappeared during registration"))
	}

	r.logger.Debug("registered connection",
		zap.String("channel", channel),
		zap.String("connectionId", connectionId),
		zap.String("identity", identity),
		zap.Bool("isNew", !alreadyPresent))

	return !alreadyPresent, nil
}

// Deregister removes connectionId from the channel and reports the identity
// it belonged to. isLast = true means this was the identity's final
// connection and its presence was fully removed, i.e. a leave should be
// broadcast. An unknown connectionId yields NotFound and changes nothing.
//
// When sibling connections of one identity deregister concurrently, the
// emptiness check runs inside the store script, so exactly one caller
// observes isLast = true.
func (r *Registry) Deregister(
	ctx context.Context,
	channel string,
	connectionId string,
) (identity string, isLast bool, err error) {
	if channel == "" || connectionId == "" {
		return "", false, ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("channel and connectionId are required"))
	}

	shard := r.router.ShardFor(channel)

	identity, err = shard.Get(ctx, reverseKey(channel, connectionId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, ierr.New(ierr.ErrorCodeNotFound,
			errors.New("connection is not registered in channel"))
	}
	if err != nil {
		return "", false, storeError(err)
	}

	stillPresent, err := deregisterMembership(ctx, shard, channel, connectionId, identity)
	if err != nil {
		return "", false, storeError(err)
	}

	r.logger.Debug("deregistered connection",
		zap.String("channel", channel),
		zap.String("connectionId", connectionId),
		zap.String("identity", identity),
		zap.Bool("isLast", !stillPresent))

	return identity, !stillPresent, nil
}

// Snapshot returns every identity currently present in the channel together
// with its payload. The roster is read with a cursor scan so arbitrarily
// large channels never require one unbounded request; each page's payload
// fetch is pipelined with the next page's scan in a single round trip.
//
// The scan is not isolated from concurrent registrations: membership that
// changes mid-scan may or may not be reflected. On any error the whole call
// fails; partial results are never returned.
func (r *Registry) Snapshot(ctx context.Context, channel string) (map[string][]byte, error) {
	if channel == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("channel is required"))
	}

	shard := r.router.ShardFor(channel)
	roster := make(map[string][]byte)

	var cursor uint64
	var pending []string
	scanDone := false

	for first := true; first || !scanDone || len(pending) > 0; first = false {
		pipe := shard.Pipeline()

		var fetch *redis.SliceCmd
		if len(pending) > 0 {
			keys := make([]string, len(pending))
			for i, identity := range pending {
				keys[i] = payloadKey(channel, identity)
			}

			fetch = pipe.MGet(ctx, keys...)
		}

		var scan *redis.ScanCmd
		if !scanDone {
			scan = pipe.ZScan(ctx, rosterKey(channel), cursor, "", rosterScanCount)
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return nil, storeError(err)
		}

		if fetch != nil {
			for i, value := range fetch.Val() {
				// Nil means the payload was deleted between the scan
				// and the fetch; that identity is gone, skip it.
				payload, ok := value.(string)
				if !ok {
					continue
				}

				roster[pending[i]] = []byte(payload)
			}
		}

		pending = nil

		if scan != nil {
			members, next, err := scan.Result()
			if err != nil {
				return nil, storeError(err)
			}

			// ZSCAN interleaves members with their scores.
			for i := 0; i < len(members); i += 2 {
				pending = append(pending, members[i])
			}

			cursor = next
			scanDone = cursor == 0
		}
	}

	return roster, nil
}

// Lookup resolves the payload last registered for the identity owning
// connectionId in the channel. NotFound covers both an unregistered
// connection and a payload concurrently removed between the two reads.
func (r *Registry) Lookup(ctx context.Context, channel string, connectionId string) ([]byte, error) {
	if channel == "" || connectionId == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("channel and connectionId are required"))
	}

	shard := r.router.ShardFor(channel)

	identity, err := shard.Get(ctx, reverseKey(channel, connectionId)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ierr.New(ierr.ErrorCodeNotFound,
			errors.New("connection is not registered in channel"))
	}
	if err != nil {
		return nil, storeError(err)
	}

	payload, err := shard.Get(ctx, payloadKey(channel, identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ierr.New(ierr.ErrorCodeNotFound,
			errors.New("identity has no payload in channel"))
	}
	if err != nil {
		return nil, storeError(err)
	}

	return payload, nil
}

func storeError(err error) error {
	return ierr.New(ierr.ErrorCodeUnavailable, err)
}
