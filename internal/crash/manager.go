package crash

import (
	"blackfuzz/internal/types"
	"blackfuzz/pkg/telemetry"
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// Sink receives every unique crash of the run.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg types.CrashMessage) error
}

type CrashManager struct {
	logger *zap.Logger
	sinks  []Sink

	crashChan chan types.CrashMessage
	wg        sync.WaitGroup
	done      chan struct{}
}

type CrashManagerParams struct {
	fx.In
	Logger    *zap.Logger
	LifeCycle fx.Lifecycle
	Sinks     []Sink `group:"crash_sinks"`
}

func NewCrashManager(p CrashManagerParams) *CrashManager {
	sinks := make([]Sink, 0, len(p.Sinks))
	for _, sink := range p.Sinks {
		sinkV := reflect.ValueOf(sink)
		if !sinkV.IsValid() || (sinkV.Kind() == reflect.Ptr && sinkV.IsNil()) {
			continue // skip unconfigured sink
		}
		sinks = append(sinks, sink)
		p.Logger.Debug("crash sink registered", zap.String("sink", sink.Name()))
	}

	c := &CrashManager{
		logger:    p.Logger.Named("crash_manager"),
		sinks:     sinks,
		crashChan: make(chan types.CrashMessage, 1024),
		done:      make(chan struct{}),
	}

	p.LifeCycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.logger.Debug("starting crash manager")
			go c.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.logger.Info("stopping crash manager")
			c.wg.Wait() // wait until all crash channel are properly closed
			c.logger.Debug("closing crash channel")
			close(c.crashChan)
			c.logger.Debug("waiting for crash manager to finish processing")
			select {
			case <-c.done: // wait until all crashes are processed
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return c
}

func (c *CrashManager) Sinks() []Sink {
	return c.sinks
}

// RegisterCrashChan forwards every message from rCh until it is closed. The
// manager does not stop before all registered channels are closed.
func (c *CrashManager) RegisterCrashChan(ctx context.Context, rCh <-chan types.CrashMessage) {
	c.wg.Add(1)
	crashTracer := telemetry.FromContext(ctx).Spawn("crash manager")
	crashTracer.Start()
	go func() {
		defer c.wg.Done()
		defer crashTracer.End()

		crashCounter := 0
		for crash := range rCh {
			crashCounter++
			c.logger.Debug("new crash message received", zap.Any("crash", crash))
			c.crashChan <- crash
		}
		c.logger.Debug("crash channel closed")

		crashTracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttribute("crashes_forwarded", crashCounter))
	}()
	c.logger.Debug("new crash channel registered")
}

func (c *CrashManager) start() {
	defer close(c.done)
	for crash := range c.crashChan {
		c.publish(crash)
	}
}

// publish hands msg to every sink; one failing sink does not affect the others.
func (c *CrashManager) publish(msg types.CrashMessage) {
	for _, sink := range c.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := sink.Publish(ctx, msg)
		cancel()
		if err != nil {
			c.logger.Error("failed to publish crash",
				zap.String("sink", sink.Name()),
				zap.String("fingerprint", msg.Fingerprint),
				zap.Error(err),
			)
			continue
		}
		c.logger.Debug("crash published", zap.String("sink", sink.Name()), zap.String("fingerprint", msg.Fingerprint))
	}
}
