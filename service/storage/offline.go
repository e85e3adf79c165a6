package storage

import (
	"context"
	"encoding/json"
	"time"
)

// QueuedMessage is a durable, undelivered event waiting for its user to
// reconnect. Payload stays opaque JSON end to end.
type QueuedMessage struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the message must be treated as absent.
func (m *QueuedMessage) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}

// QueueStats is the operational snapshot exposed on the stats endpoint.
type QueueStats struct {
	TotalQueued       int64 `json:"total_queued"`
	UsersWithMessages int64 `json:"users_with_messages"`
}

// OfflineQueue is the durable fallback when no process holds a live
// connection for a user. Queuing is best-effort: Enqueue reports storage
// failures through its error but callers must not fail the original emission
// because of them.
//
// Drain returns non-expired messages oldest first and does not mutate state,
// so a caller whose delivery failed can call it again. Expiry is enforced at
// read time; background sweeps are hygiene only.
type OfflineQueue interface {
	// Enqueue stores a message with the given TTL. A non-positive TTL is a
	// no-op ("" id, nil error): the message would already be expired.
	Enqueue(ctx context.Context, userID, event string, payload json.RawMessage, ttl time.Duration) (string, error)
	Drain(ctx context.Context, userID string) ([]QueuedMessage, error)
	Clear(ctx context.Context, userID string) error
	RemoveMessage(ctx context.Context, userID, messageID string) error
	Stats(ctx context.Context) (QueueStats, error)
}
