package database

import (
	"blackfuzz/config"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

type RedisParams struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient connects to OVERRIDE_REDIS_URL, or to the sentinel-managed
// master otherwise. It returns a nil client when neither is configured.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	var client *redis.Client
	var err error

	switch {
	case p.Config.RedisUrl != "":
		client, err = newRedisClient(p.Config.RedisUrl)
	case p.Config.RedisSentinelHosts != "":
		client, err = newRedisFailoverClient(p.Config.RedisSentinelHosts, p.Config.RedisMasterName)
	default:
		p.Logger.Debug("no redis configured")
		return nil, nil
	}
	if err != nil {
		p.Logger.Error("Failed to create Redis client", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	p.Logger.Debug("Redis client created successfully")
	return client, nil
}

func newRedisFailoverClient(redisSentinelHostsString, redisMasterName string) (*redis.Client, error) {
	redisSentinelHosts := config.SplitList(redisSentinelHostsString)

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    redisMasterName,
		SentinelAddrs: redisSentinelHosts,
		DB:            0,
	})
	return client, ping(client)
}

func newRedisClient(redisUrl string) (*redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(redisUrl))
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	return client, ping(client)
}

// Test the connection
func ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return err
	}
	return nil
}
