package fuzz

import (
	"blackfuzz/config"
	"blackfuzz/internal/corpus"
	"blackfuzz/internal/crash"
	"blackfuzz/internal/executor"
	"blackfuzz/internal/mutator"
	"blackfuzz/internal/stats"
	"blackfuzz/internal/types"
	"blackfuzz/pkg/telemetry"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pool owns the workers of one campaign.
type Pool struct {
	campaign *types.Campaign
	store    *corpus.Store
	executor *executor.Executor
	policy   *executor.SignalPolicy
	tracer   telemetry.Tracer
	logger   *zap.Logger
	workers  []*Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type PoolParams struct {
	fx.In
	Lc       fx.Lifecycle
	Config   *config.AppConfig
	Campaign *types.Campaign
	Store    *corpus.Store
	Recorder *crash.Recorder
	Counters *stats.Counters
	Tracer   telemetry.Tracer `optional:"true"`
	Logger   *zap.Logger
}

func NewPool(p PoolParams) (*Pool, error) {
	pool, err := newPool(p.Config, p.Campaign, p.Store, p.Recorder, p.Counters, p.Tracer, p.Logger)
	if err != nil {
		return nil, err
	}
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pool.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return pool.Stop(ctx)
		},
	})
	return pool, nil
}

func newPool(
	appConfig *config.AppConfig,
	campaign *types.Campaign,
	store *corpus.Store,
	recorder *crash.Recorder,
	counters *stats.Counters,
	tracer telemetry.Tracer,
	logger *zap.Logger,
) (*Pool, error) {
	signals, err := appConfig.Signals()
	if err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = &telemetry.DummyTracer{}
	}
	fuzzConfig := appConfig.FuzzConfig

	pool := &Pool{
		campaign: campaign,
		store:    store,
		executor: executor.New(appConfig.Target, appConfig.TargetArgs, fuzzConfig.ExecTimeout),
		policy:   executor.NewSignalPolicy(signals...),
		tracer:   tracer,
		logger:   logger.Named("fuzz"),
	}

	mut := mutator.New(fuzzConfig.MutationsPerCase)
	for id := range fuzzConfig.WorkerCount {
		pool.workers = append(pool.workers, &Worker{
			id:       id,
			scratch:  ScratchPath(appConfig.ScratchDir, id),
			rng:      newRand(fuzzConfig.RNGSeed, id),
			store:    store,
			mutator:  mut,
			executor: pool.executor,
			policy:   pool.policy,
			recorder: recorder,
			counters: counters,
			logger:   pool.logger.With(zap.Int("worker", id)),
		})
	}
	return pool, nil
}

// ScratchPath is the input file owned by worker id.
func ScratchPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("tmp%d", id))
}

// newRand seeds a worker's random source. A zero seed picks a random one, any
// other seed makes every worker's sequence reproducible.
func newRand(seed uint64, id int) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, uint64(id)))
}

func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Start launches every worker in its own goroutine.
func (p *Pool) Start() {
	p.tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Fuzzing).
		WithTarget(p.campaign.Target).
		WithRunID(p.campaign.RunID).
		WithCorpusSize(p.store.Len()).
		WithWorkerCount(len(p.workers)).
		WithExtraAttribute("fuzz.timeout", p.executor.Timeout().String()))

	fuzzCtx, cancel := context.WithCancel(context.Background())
	fuzzCtx = context.WithValue(fuzzCtx, telemetry.TracerKey{}, p.tracer)
	p.cancel = cancel

	p.logger.Info("starting workers",
		zap.String("target", p.campaign.Target),
		zap.Int("workers", len(p.workers)),
		zap.Int("seeds", p.store.Len()),
		zap.Duration("timeout", p.executor.Timeout()),
		zap.Any("signals", signalNames(p.policy)),
	)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(fuzzCtx)
		}()
	}
}

// Stop cancels every worker, killing in-flight targets, and waits for them.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("all workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers did not stop: %w", ctx.Err())
	}
}

func signalNames(policy *executor.SignalPolicy) []string {
	var names []string
	for _, sig := range policy.Signals() {
		names = append(names, executor.SignalName(sig))
	}
	return names
}

// PrepareDirs creates the crash and scratch directories.
func PrepareDirs(appConfig *config.AppConfig) error {
	for _, dir := range []string{appConfig.CrashDir, appConfig.ScratchDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
