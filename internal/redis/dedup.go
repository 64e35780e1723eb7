package redis

import (
	"context"
	"fmt"
	"time"
)

// DedupTTL is how long seen-message markers are retained. SQS
// at-least-once redelivery happens within the visibility window, so a
// few minutes of memory is enough.
const DedupTTL = 10 * time.Minute

// Deduper remembers recently seen ingest message ids so redelivered
// queue messages do not produce duplicate events.
type Deduper struct {
	client *Client
}

// NewDeduper creates a deduper on the shared Redis client.
func NewDeduper(client *Client) *Deduper {
	return &Deduper{client: client}
}

// Seen atomically marks id as processed and reports whether it had
// already been marked. First caller gets false, redeliveries get true.
func (d *Deduper) Seen(ctx context.Context, id string) (bool, error) {
	key := "ingest:seen:" + id
	set, err := d.client.rdb.SetNX(ctx, key, "1", DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !set, nil
}
