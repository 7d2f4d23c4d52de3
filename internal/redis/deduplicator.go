package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/pscheid92/redeemcast/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "eventsub:msg:"

// Deduplicator is a domain.Deduplicator shared by every process pointed at
// the same Redis.
type Deduplicator struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
}

var _ domain.Deduplicator = (*Deduplicator)(nil)

// NewDeduplicator creates a Deduplicator whose keys live at least ttl.
func NewDeduplicator(rdb *goredis.Client, ttl time.Duration) *Deduplicator {
	return newDeduplicator(rdb, ttl, dedupKeyPrefix)
}

func newDeduplicator(rdb *goredis.Client, ttl time.Duration, prefix string) *Deduplicator {
	return &Deduplicator{rdb: rdb, ttl: ttl, prefix: prefix}
}

// Claim sets eventsub:msg:<id> with NX; only the first caller succeeds.
// The key expires after the longer of ttl and the configured TTL.
func (d *Deduplicator) Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+messageID, 1, max(ttl, d.ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim %s: %w", messageID, err)
	}
	return ok, nil
}
