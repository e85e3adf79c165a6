package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"HabitLink/logger"
	"HabitLink/tools/ids"
)

// Redis layout:
//   hab:offline:<user>  ZSET  member = message JSON, score = created-at millis
//   hab:offline:users   SET   users that may have queued messages
//
// Score keeps drain order (oldest first); expiry lives inside the member JSON
// and is checked at read time. The Lua sweep is storage hygiene only.

const (
	offlineKeyPrefix = "hab:offline:"
	offlineUsersKey  = "hab:offline:users"
)

func offlineKey(user string) string { return offlineKeyPrefix + user }

// Removes members whose embedded expires_at_ms has passed.
// KEYS[1] = user queue zset
// ARGV[1] = now millis
const luaSweepExpired = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local members = redis.call("ZRANGE", key, 0, -1)
local removed = 0
for _, m in ipairs(members) do
  local ok, msg = pcall(cjson.decode, m)
  if ok and msg.expires_at_ms and tonumber(msg.expires_at_ms) <= now then
    redis.call("ZREM", key, m)
    removed = removed + 1
  end
end
return removed
`

// redisQueueEntry is the stored shape; expires_at_ms duplicates ExpiresAt in
// millis so the Lua sweep can compare without parsing RFC3339.
type redisQueueEntry struct {
	QueuedMessage
	ExpiresAtMS int64 `json:"expires_at_ms"`
}

type RedisOfflineQueue struct {
	rdb   *redis.Client
	sweep *redis.Script
	clock func() time.Time
}

func NewRedisOfflineQueue(rdb *redis.Client) *RedisOfflineQueue {
	return &RedisOfflineQueue{
		rdb:   rdb,
		sweep: redis.NewScript(luaSweepExpired),
		clock: time.Now,
	}
}

func (q *RedisOfflineQueue) Enqueue(
	ctx context.Context, userID, event string, payload json.RawMessage, ttl time.Duration,
) (string, error) {
	if ttl <= 0 {
		return "", nil
	}
	now := q.clock()
	msg := redisQueueEntry{
		QueuedMessage: QueuedMessage{
			ID:        ids.GenerateString(),
			UserID:    userID,
			Event:     event,
			Payload:   payload,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
	}
	msg.ExpiresAtMS = msg.ExpiresAt.UnixMilli()

	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, offlineKey(userID), redis.Z{Score: float64(now.UnixMilli()), Member: b})
	pipe.SAdd(ctx, offlineUsersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (q *RedisOfflineQueue) Drain(ctx context.Context, userID string) ([]QueuedMessage, error) {
	vals, err := q.rdb.ZRange(ctx, offlineKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	now := q.clock()
	out := make([]QueuedMessage, 0, len(vals))
	for _, v := range vals {
		var e redisQueueEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			logger.Warnf("[offline] skip undecodable entry user=%s err=%v", userID, err)
			continue
		}
		if e.Expired(now) {
			continue
		}
		out = append(out, e.QueuedMessage)
	}
	return out, nil
}

func (q *RedisOfflineQueue) Clear(ctx context.Context, userID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, offlineKey(userID))
	pipe.SRem(ctx, offlineUsersKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisOfflineQueue) RemoveMessage(ctx context.Context, userID, messageID string) error {
	vals, err := q.rdb.ZRange(ctx, offlineKey(userID), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, v := range vals {
		var e redisQueueEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		if e.ID == messageID {
			return q.rdb.ZRem(ctx, offlineKey(userID), v).Err()
		}
	}
	return nil
}

func (q *RedisOfflineQueue) Stats(ctx context.Context) (QueueStats, error) {
	users, err := q.rdb.SMembers(ctx, offlineUsersKey).Result()
	if err != nil {
		return QueueStats{}, err
	}
	var st QueueStats
	for _, u := range users {
		n, err := q.rdb.ZCard(ctx, offlineKey(u)).Result()
		if err != nil {
			return QueueStats{}, err
		}
		if n == 0 {
			// stale index entry, drop it
			_ = q.rdb.SRem(ctx, offlineUsersKey, u).Err()
			continue
		}
		st.TotalQueued += n
		st.UsersWithMessages++
	}
	return st, nil
}

// SweepExpired removes expired members for one user. Periodic hygiene;
// correctness never depends on it (Drain filters at read time).
func (q *RedisOfflineQueue) SweepExpired(ctx context.Context, userID string) (int64, error) {
	return q.sweep.Run(ctx, q.rdb,
		[]string{offlineKey(userID)},
		q.clock().UnixMilli(),
	).Int64()
}
