package stats

import (
	"blackfuzz/internal/types"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatsKey = "blackfuzz:stats:%s" // run ID -> latest report
	statsTTL = 24 * time.Hour
)

// RedisPublisher keeps the latest report of the run in a redis hash.
type RedisPublisher struct {
	client *redis.Client
	key    string
}

// NewRedisPublisher returns nil when no redis is configured.
func NewRedisPublisher(client *redis.Client, campaign *types.Campaign) Publisher {
	if client == nil {
		return nil
	}
	return &RedisPublisher{client, fmt.Sprintf(StatsKey, campaign.RunID)}
}

func (p *RedisPublisher) Publish(ctx context.Context, r Report) error {
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.key, map[string]any{
		"target":     r.Target,
		"cases":      r.Cases,
		"secs":       r.Secs,
		"cps":        r.CPS,
		"crashes":    r.Crashes,
		"unique":     r.Unique,
		"updated_at": time.Now().Format(time.RFC3339),
	})
	pipe.Expire(ctx, p.key, statsTTL)
	_, err := pipe.Exec(ctx)
	return err
}
