package crash

import (
	"blackfuzz/internal/types"
	"blackfuzz/pkg/database"
	"blackfuzz/pkg/mq"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	CrashQueue   = "blackfuzz_crashes"
	CrashSetKey  = "blackfuzz:crashes:%s" // run ID -> set of fingerprints
	CrashHashKey = "blackfuzz:crash:%s"   // fingerprint -> crash details
)

// DBSink stores each crash as a row in crash_records.
type DBSink struct {
	db       *gorm.DB
	hostname string
}

// NewDBSink returns nil when no database is configured.
func NewDBSink(db *gorm.DB) *DBSink {
	if db == nil {
		return nil
	}
	hostname, _ := os.Hostname()
	return &DBSink{db, hostname}
}

func (s *DBSink) Name() string { return "database" }

func (s *DBSink) Publish(ctx context.Context, msg types.CrashMessage) error {
	record := database.NewCrashRecord(
		msg.RunID,
		msg.Target,
		msg.Fingerprint,
		msg.CrashFile,
		msg.SeedID,
		msg.FoundAt,
		database.Metadata{"hostname": s.hostname},
	)
	return database.AddCrashRecords(ctx, s.db, []*database.CrashRecord{record})
}

// RedisSink indexes crashes by run and by fingerprint.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink returns nil when no redis is configured.
func NewRedisSink(client *redis.Client) *RedisSink {
	if client == nil {
		return nil
	}
	return &RedisSink{client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, msg types.CrashMessage) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, fmt.Sprintf(CrashSetKey, msg.RunID), msg.Fingerprint)
	pipe.HSet(ctx, fmt.Sprintf(CrashHashKey, msg.Fingerprint), map[string]any{
		"run_id":   msg.RunID,
		"target":   msg.Target,
		"path":     msg.CrashFile,
		"seed_id":  msg.SeedID,
		"found_at": msg.FoundAt.Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index crash in redis: %w", err)
	}
	return nil
}

// MQSink publishes each crash as JSON on the crash queue.
type MQSink struct {
	mq mq.RabbitMQ
}

// NewMQSink returns nil when no broker is configured.
func NewMQSink(rabbitMQ mq.RabbitMQ) *MQSink {
	if rabbitMQ == nil {
		return nil
	}
	return &MQSink{rabbitMQ}
}

func (s *MQSink) Name() string { return "rabbitmq" }

func (s *MQSink) Publish(ctx context.Context, msg types.CrashMessage) error {
	return s.mq.PublishJSON(ctx, CrashQueue, msg)
}
