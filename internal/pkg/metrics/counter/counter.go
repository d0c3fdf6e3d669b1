package counter

import (
	"context"
	"strconv"

	"github.com/guildgate/guildgate/internal/pkg/cache"
)

const eventCountersKey = "guildgate:counters:events"

// Counter fields. Kept as a flat Redis hash so increments from multiple
// instances aggregate without coordination.
const (
	WebhookAccepted  = "webhook_accepted"
	WebhookDuplicate = "webhook_duplicate"
	WebhookRejected  = "webhook_rejected"
	LinkStarted      = "link_started"
	LinkCompleted    = "link_completed"
	LinkFailed       = "link_failed"
)

// Add increments a pending event counter in Redis
func Add(field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, eventCountersKey, field, 1).Err()
}

// Snapshot returns the current counter values
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, eventCountersKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Reset drops all counters
func Reset() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, eventCountersKey).Err()
}
