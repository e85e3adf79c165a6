package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"HabitLink/tools/ids"
)

// MemoryOfflineQueue keeps queued messages in process memory. It exists for
// tests and single-node development runs; it is not durable across restarts.
// The Clock field is injectable for TTL tests.
type MemoryOfflineQueue struct {
	mu    sync.Mutex
	byUsr map[string][]QueuedMessage
	Clock func() time.Time
}

func NewMemoryOfflineQueue() *MemoryOfflineQueue {
	return &MemoryOfflineQueue{
		byUsr: make(map[string][]QueuedMessage),
		Clock: time.Now,
	}
}

func (q *MemoryOfflineQueue) Enqueue(
	_ context.Context, userID, event string, payload json.RawMessage, ttl time.Duration,
) (string, error) {
	if ttl <= 0 {
		return "", nil
	}
	now := q.Clock()
	msg := QueuedMessage{
		ID:        ids.GenerateString(),
		UserID:    userID,
		Event:     event,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.byUsr[userID] = append(q.byUsr[userID], msg)
	return msg.ID, nil
}

func (q *MemoryOfflineQueue) Drain(_ context.Context, userID string) ([]QueuedMessage, error) {
	now := q.Clock()
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []QueuedMessage
	for _, m := range q.byUsr[userID] {
		if m.Expired(now) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (q *MemoryOfflineQueue) Clear(_ context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.byUsr, userID)
	return nil
}

func (q *MemoryOfflineQueue) RemoveMessage(_ context.Context, userID, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.byUsr[userID]
	for i, m := range msgs {
		if m.ID == messageID {
			q.byUsr[userID] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	if len(q.byUsr[userID]) == 0 {
		delete(q.byUsr, userID)
	}
	return nil
}

func (q *MemoryOfflineQueue) Stats(_ context.Context) (QueueStats, error) {
	now := q.Clock()
	q.mu.Lock()
	defer q.mu.Unlock()

	var st QueueStats
	for _, msgs := range q.byUsr {
		live := int64(0)
		for _, m := range msgs {
			if !m.Expired(now) {
				live++
			}
		}
		if live > 0 {
			st.TotalQueued += live
			st.UsersWithMessages++
		}
	}
	return st, nil
}
