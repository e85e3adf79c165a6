package fleet

import (
	"context"
	"encoding/json"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"HabitLink/logger"
)

// RedisAdapter fans events out over redis pub/sub. Channels:
//   hab:fleet:user:<user>
//   hab:fleet:room:<room>
// Every node pattern-subscribes to hab:fleet:* and filters by Origin.

const (
	redisUserChannel = "hab:fleet:user:"
	redisRoomChannel = "hab:fleet:room:"
	redisPattern     = "hab:fleet:*"
)

type RedisAdapter struct {
	rdb    *goredis.Client
	nodeID string

	mu     sync.Mutex
	pubsub *goredis.PubSub
	cancel context.CancelFunc
}

func NewRedisAdapter(rdb *goredis.Client, nodeID string) *RedisAdapter {
	return &RedisAdapter{rdb: rdb, nodeID: nodeID}
}

func (a *RedisAdapter) PublishToUser(ctx context.Context, userID, event string, payload json.RawMessage) error {
	env := newEnvelope(a.nodeID, "", userID, event, payload)
	return a.publish(ctx, redisUserChannel+userID, env)
}

func (a *RedisAdapter) PublishToRoom(ctx context.Context, room, event string, payload json.RawMessage) error {
	env := newEnvelope(a.nodeID, room, "", event, payload)
	return a.publish(ctx, redisRoomChannel+room, env)
}

func (a *RedisAdapter) publish(ctx context.Context, channel string, env *Envelope) error {
	b, err := env.Encode()
	if err != nil {
		return err
	}
	return a.rdb.Publish(ctx, channel, b).Err()
}

func (a *RedisAdapter) Subscribe(h Handler) error {
	ctx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.pubsub = a.rdb.PSubscribe(ctx, redisPattern)
	a.cancel = cancel
	ch := a.pubsub.Channel()
	a.mu.Unlock()

	go func() {
		for msg := range ch {
			env, err := DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				logger.Warnf("[fleet/redis] bad envelope on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == a.nodeID {
				continue
			}
			h(env)
		}
	}()
	return nil
}

func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.pubsub != nil {
		return a.pubsub.Close()
	}
	return nil
}
