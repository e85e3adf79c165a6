package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Presence keys let the REST layer cheaply ask "probably online?" without a
// fleet round trip. They are advisory: delivery decisions always go through
// the registry, the fleet adapter and the offline queue.
//
// key: hab:presence:<user>, value: node id, TTL bounds staleness.

func presenceKey(user string) string { return "hab:presence:" + user }

type RedisPresence struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisPresence(rdb *goredis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

// Online marks the user online on the given node and renews the TTL.
func (p *RedisPresence) Online(ctx context.Context, user, nodeID string) error {
	return p.rdb.Set(ctx, presenceKey(user), nodeID, p.ttl).Err()
}

// Offline removes the marker.
func (p *RedisPresence) Offline(ctx context.Context, user string) error {
	return p.rdb.Del(ctx, presenceKey(user)).Err()
}

// Lookup returns the node id holding a connection for the user, if any.
func (p *RedisPresence) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
