package main

import (
	"blackfuzz/config"
	"blackfuzz/internal/corpus"
	"blackfuzz/internal/crash"
	"blackfuzz/internal/fuzz"
	"blackfuzz/internal/stats"
	"blackfuzz/internal/types"
	"blackfuzz/pkg/database"
	"blackfuzz/pkg/logger"
	"blackfuzz/pkg/mq"
	"blackfuzz/pkg/telemetry"
	"blackfuzz/pkg/watchdog"
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newApp(cfg *config.AppConfig, store *corpus.Store, loaded corpus.LoadStats) *fx.App {
	return fx.New(
		appOptions(cfg, store, loaded),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
}

func appOptions(cfg *config.AppConfig, store *corpus.Store, loaded corpus.LoadStats) fx.Option {
	return fx.Options(
		fx.Supply(cfg, store, loaded),
		fx.Provide(
			newCampaign,                 // inject campaign identity
			logger.NewLogger,            // inject logger
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			newCampaignTracer,           // inject campaign span
			database.NewDBConnection,    // inject db connection
			database.NewRedisClient,     // inject redis client
			mq.NewRabbitMQ,              // inject rabbitmq service
			watchdog.NewWatchDogFactory, // inject watchdog factory
			stats.NewCounters,           // inject shared counters
			stats.NewRedisPublisher,     // inject stats publisher
			newUniqueCounter,            // inject unique crash count
			stats.NewReporter,           // inject stats reporter
			fuzz.NewPool,                // inject worker pool
		),
		crash.Module, // inject crash recorder, manager, monitor and sinks
		fx.Invoke(
			fuzz.PrepareDirs, // create crash and scratch dirs
			logCorpus,
			// start order: monitor, workers, reporter
			func(*crash.Monitor) {},
			func(*fuzz.Pool) {},
			func(*stats.Reporter) {},
		),
	)
}

func newCampaign(cfg *config.AppConfig) *types.Campaign {
	return types.NewCampaign(cfg.Target)
}

func newUniqueCounter(m *crash.Monitor) stats.UniqueCounter {
	return m
}

type campaignTracerParams struct {
	fx.In
	Lc       fx.Lifecycle
	Factory  *telemetry.TracerFactory
	Campaign *types.Campaign
}

// newCampaignTracer returns the span covering the whole run.
func newCampaignTracer(p campaignTracerParams) telemetry.Tracer {
	tracer := p.Factory.NewTracer(context.Background(), fmt.Sprintf("blackfuzz campaign %s", p.Campaign.RunID)).
		WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Fuzzing).
				WithTarget(p.Campaign.Target).
				WithRunID(p.Campaign.RunID),
		)
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			tracer.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			tracer.SetStatus(codes.Ok, "campaign stopped")
			tracer.End()
			return nil
		},
	})
	return tracer
}

func logCorpus(log *zap.Logger, cfg *config.AppConfig, store *corpus.Store, loaded corpus.LoadStats) {
	log.Info("corpus loaded",
		zap.String("corpus", cfg.CorpusDir),
		zap.Int("seeds", store.Len()),
		zap.Int("bytes", store.TotalBytes()),
	)
	if loaded.Skipped > 0 {
		log.Warn("skipped empty corpus files", zap.Int("skipped", loaded.Skipped))
	}
}
