package fuzz

import (
	"blackfuzz/config"
	"blackfuzz/internal/corpus"
	"blackfuzz/internal/crash"
	"blackfuzz/internal/stats"
	"blackfuzz/internal/types"
	"context"
	"io"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// crashes with SIGSEGV iff the byte at offset 42 of the input is non-zero
const offset42Target = `b=$(od -An -tu1 -j42 -N1 "$1" | tr -d ' \n'); [ "$b" = 0 ] || kill -SEGV $$`

func testConfig(t *testing.T, script string, workers int) *config.AppConfig {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	cfg := &config.AppConfig{
		Target:     sh,
		TargetArgs: []string{"-c", script, "sh"},
		CrashDir:   filepath.Join(dir, "crashes"),
		ScratchDir: filepath.Join(dir, "tmp_inputs"),
		FuzzConfig: config.FuzzConfig{
			WorkerCount:        workers,
			ExecTimeout:        2 * time.Second,
			MutationsPerCase:   8,
			InterestingSignals: []string{"SIGSEGV"},
			RNGSeed:            7,
		},
		StatsInterval: time.Second,
	}
	if err := PrepareDirs(cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func testStore(t *testing.T, data []byte) *corpus.Store {
	t.Helper()
	store, err := corpus.New([]corpus.Seed{{ID: "corpus/zeros", Data: data}})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testPool(t *testing.T, cfg *config.AppConfig, store *corpus.Store) (*Pool, *stats.Counters) {
	t.Helper()
	lg := zaptest.NewLogger(t)
	counters := stats.NewCounters()
	recorder := crash.New(cfg.CrashDir, cfg.Target, io.Discard, lg)
	pool, err := newPool(cfg, types.NewCampaign(cfg.Target), store, recorder, counters, nil, lg)
	if err != nil {
		t.Fatal(err)
	}
	return pool, counters
}

func crashFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, crash.FilePrefix+"*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestFindsCrashAtOffset42(t *testing.T) {
	cfg := testConfig(t, offset42Target, 1)
	pool, counters := testPool(t, cfg, testStore(t, make([]byte, 100)))
	w := pool.Workers()[0]

	found := false
	for range 2000 {
		_, isCrash, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if isCrash {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no crash found in 2000 cases")
	}

	files := crashFiles(t, cfg.CrashDir)
	if len(files) != 1 {
		t.Fatalf("crash files = %v, want exactly one", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 100 || data[42] == 0 {
		t.Errorf("artifact has %d bytes and byte 42 = %d", len(data), data[42])
	}
	if filepath.Base(files[0]) != crash.FileName(crash.Fingerprint(data)) {
		t.Errorf("artifact %s is not named after its content", files[0])
	}
	snap := counters.Snapshot()
	if snap.Crashes != 1 || snap.Cases < 1 {
		t.Errorf("counters = %+v", snap)
	}
}

func TestIdenticalCrashesRecordOneArtifact(t *testing.T) {
	cfg := testConfig(t, "kill -SEGV $$", 2)
	pool, counters := testPool(t, cfg, testStore(t, []byte("same seed bytes")))

	// identical random sources produce identical candidates
	for _, w := range pool.Workers() {
		w.rng = rand.New(rand.NewPCG(1, 2))
	}

	var wg sync.WaitGroup
	for _, w := range pool.Workers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, isCrash, err := w.RunOnce(context.Background()); err != nil || !isCrash {
				t.Errorf("RunOnce = %v, %v; want a crash", isCrash, err)
			}
		}()
	}
	wg.Wait()

	if files := crashFiles(t, cfg.CrashDir); len(files) != 1 {
		t.Errorf("crash files = %v, want exactly one", files)
	}
	if snap := counters.Snapshot(); snap.Crashes != 2 || snap.Cases != 2 {
		t.Errorf("counters = %+v, want 2 crashes in 2 cases", snap)
	}
}

func TestNonCrashingOutcomesAreCountedOnly(t *testing.T) {
	for _, script := range []string{"exit 0", "exit 1", "kill -ABRT $$"} {
		cfg := testConfig(t, script, 1)
		pool, counters := testPool(t, cfg, testStore(t, []byte("seed")))
		for range 3 {
			if _, isCrash, err := pool.Workers()[0].RunOnce(context.Background()); err != nil || isCrash {
				t.Errorf("%q: RunOnce = %v, %v", script, isCrash, err)
			}
		}
		if snap := counters.Snapshot(); snap.Cases != 3 || snap.Crashes != 0 {
			t.Errorf("%q: counters = %+v", script, snap)
		}
		if files := crashFiles(t, cfg.CrashDir); len(files) != 0 {
			t.Errorf("%q: unexpected crash files %v", script, files)
		}
	}
}

func TestConfiguredSignalsAreCrashes(t *testing.T) {
	cfg := testConfig(t, "kill -ABRT $$", 1)
	cfg.FuzzConfig.InterestingSignals = []string{"SIGSEGV", "SIGABRT"}
	pool, counters := testPool(t, cfg, testStore(t, []byte("seed")))
	if _, isCrash, err := pool.Workers()[0].RunOnce(context.Background()); err != nil || !isCrash {
		t.Fatalf("RunOnce = %v, %v; want a crash", isCrash, err)
	}
	if snap := counters.Snapshot(); snap.Crashes != 1 {
		t.Errorf("counters = %+v", snap)
	}
}

func TestExecutorFailureIsNotCounted(t *testing.T) {
	cfg := testConfig(t, "exit 0", 1)
	cfg.ScratchDir = filepath.Join(t.TempDir(), "missing")
	pool, counters := testPool(t, cfg, testStore(t, []byte("seed")))
	if _, _, err := pool.Workers()[0].RunOnce(context.Background()); err == nil {
		t.Fatal("expected scratch write error")
	}
	if snap := counters.Snapshot(); snap.Cases != 0 {
		t.Errorf("failed case was counted: %+v", snap)
	}
}

func TestRunSurvivesExecutorFailures(t *testing.T) {
	cfg := testConfig(t, "exit 0", 1)
	cfg.Target = filepath.Join(t.TempDir(), "no-such-target")
	core, logs := observer.New(zap.DebugLevel)
	lg := zap.New(core)
	counters := stats.NewCounters()
	pool, err := newPool(cfg, types.NewCampaign(cfg.Target), testStore(t, []byte("seed")),
		crash.New(cfg.CrashDir, cfg.Target, io.Discard, lg), counters, nil, lg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Workers()[0].Run(ctx)
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	if n := logs.FilterMessage("failed to run fuzz case").Len(); n < 2 {
		t.Errorf("logged %d executor failures, want the loop to keep going", n)
	}
	if snap := counters.Snapshot(); snap.Cases != 0 || snap.Crashes != 0 {
		t.Errorf("failed cases were counted: %+v", snap)
	}
}

func TestPoolRunsUntilStopped(t *testing.T) {
	cfg := testConfig(t, "exit 0", 4)
	lg := zaptest.NewLogger(t)
	counters := stats.NewCounters()
	lc := fxtest.NewLifecycle(t)
	pool, err := NewPool(PoolParams{
		Lc:       lc,
		Config:   cfg,
		Campaign: types.NewCampaign(cfg.Target),
		Store:    testStore(t, []byte("seed")),
		Recorder: crash.New(cfg.CrashDir, cfg.Target, io.Discard, lg),
		Counters: counters,
		Logger:   lg,
	})
	if err != nil {
		t.Fatal(err)
	}
	lc.RequireStart()

	deadline := time.Now().Add(10 * time.Second)
	for counters.Snapshot().Cases < 20 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	lc.RequireStop()

	stopped := counters.Snapshot()
	if stopped.Cases < 20 || stopped.Crashes != 0 {
		t.Errorf("counters = %+v", stopped)
	}
	time.Sleep(50 * time.Millisecond)
	if counters.Snapshot() != stopped {
		t.Error("workers kept running after Stop")
	}
	for _, w := range pool.Workers() {
		if w.Scratch() != ScratchPath(cfg.ScratchDir, w.ID()) {
			t.Errorf("worker %d scratch = %s", w.ID(), w.Scratch())
		}
		if _, err := os.Stat(w.Scratch()); err != nil {
			t.Errorf("worker %d never wrote its scratch file: %v", w.ID(), err)
		}
	}
}

func TestNewPoolRejectsUnknownSignal(t *testing.T) {
	cfg := testConfig(t, "exit 0", 1)
	cfg.FuzzConfig.InterestingSignals = []string{"SIGNOPE"}
	lg := zaptest.NewLogger(t)
	_, err := newPool(cfg, types.NewCampaign(cfg.Target), testStore(t, []byte("s")),
		crash.New(cfg.CrashDir, cfg.Target, io.Discard, lg), stats.NewCounters(), nil, lg)
	if err == nil {
		t.Error("expected error for unknown signal")
	}
}

func TestNewRandIsReproducible(t *testing.T) {
	a, b := newRand(42, 3), newRand(42, 3)
	for range 10 {
		if a.Uint64() != b.Uint64() {
			t.Fatal("same seed and worker produced different sequences")
		}
	}
	if newRand(42, 1).Uint64() == newRand(42, 2).Uint64() {
		t.Error("workers share a sequence")
	}
}
