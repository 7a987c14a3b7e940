package redis

import (
	"context"
	"fmt"
	"time"
)

// ReplayCache is a best-effort fast path for webhook replay detection. A
// positive hit means the event id was already accepted recently; a miss or a
// Redis error proves nothing, and the database idempotency check stays
// authoritative.
type ReplayCache struct {
	client Client
	ttl    time.Duration
}

func NewReplayCache(client Client, ttl time.Duration) *ReplayCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReplayCache{client: client, ttl: ttl}
}

// FirstDelivery records the event id and reports whether this is the first
// time it was seen within the TTL window.
func (c *ReplayCache) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	return c.client.SetNX(ctx, eventKey(eventID), 1, c.ttl)
}

func eventKey(id string) string {
	return fmt.Sprintf("webhook_event:%s", id)
}
