package fuzz

import (
	"blackfuzz/internal/corpus"
	"blackfuzz/internal/crash"
	"blackfuzz/internal/executor"
	"blackfuzz/internal/mutator"
	"blackfuzz/internal/stats"
	"context"
	"errors"
	"math/rand/v2"

	"go.uber.org/zap"
)

// Worker runs the sample, mutate, execute, classify loop on its own scratch
// file and random source.
type Worker struct {
	id      int
	scratch string
	rng     *rand.Rand

	store    *corpus.Store
	mutator  *mutator.Mutator
	executor *executor.Executor
	policy   *executor.SignalPolicy
	recorder *crash.Recorder
	counters *stats.Counters
	logger   *zap.Logger
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) Scratch() string { return w.scratch }

// RunOnce executes one mutated case. Cases are only counted once the target
// has actually run; the returned error is an executor failure and the case is
// then dropped.
func (w *Worker) RunOnce(ctx context.Context) (executor.Outcome, bool, error) {
	seed := w.store.Sample(w.rng)
	input := w.mutator.Mutate(w.rng, seed.Data)

	outcome, err := w.executor.Execute(ctx, input, w.scratch)
	if err != nil {
		return outcome, false, err
	}

	w.counters.AddCase()
	if !w.policy.IsCrash(outcome) {
		return outcome, false, nil
	}

	w.counters.AddCrash()
	if _, err := w.recorder.Record(ctx, input, seed.ID); err != nil {
		w.logger.Error("failed to record crash", zap.String("seed", seed.ID), zap.Error(err))
	}
	return outcome, true, nil
}

// Run loops until ctx is done. Executor failures are logged and skipped.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("worker started", zap.String("scratch", w.scratch))
	defer w.logger.Debug("worker stopped")

	for ctx.Err() == nil {
		_, _, err := w.RunOnce(ctx)
		if err == nil || ctx.Err() != nil {
			continue
		}
		if errors.Is(err, executor.ErrKillFailed) {
			w.logger.Warn("target survived SIGKILL", zap.Error(err))
			continue
		}
		w.logger.Error("failed to run fuzz case", zap.Error(err))
	}
}
