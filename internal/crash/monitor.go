package crash

import (
	"blackfuzz/internal/types"
	"blackfuzz/pkg/telemetry"
	"blackfuzz/pkg/watchdog"
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Monitor watches the crash directory and reports every artifact created
// during the run exactly once, whichever process wrote it.
type Monitor struct {
	dir      string
	campaign *types.Campaign
	recorder *Recorder
	manager  *CrashManager
	watchDog *watchdog.WatchDogFactory
	tracer   telemetry.Tracer
	logger   *zap.Logger

	unique atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type MonitorParams struct {
	fx.In
	Lc          fx.Lifecycle
	Campaign    *types.Campaign
	Recorder    *Recorder
	Manager     *CrashManager
	WatchDogFac *watchdog.WatchDogFactory
	Tracer      telemetry.Tracer `optional:"true"`
	Logger      *zap.Logger
}

func NewMonitor(p MonitorParams) *Monitor {
	m := newMonitor(p.Recorder.Dir(), p.Campaign, p.Recorder, p.Manager, p.WatchDogFac, p.Tracer, p.Logger)
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Start()
		},
		OnStop: func(ctx context.Context) error {
			return m.Stop(ctx)
		},
	})
	return m
}

func newMonitor(
	dir string,
	campaign *types.Campaign,
	recorder *Recorder,
	manager *CrashManager,
	watchDog *watchdog.WatchDogFactory,
	tracer telemetry.Tracer,
	logger *zap.Logger,
) *Monitor {
	if tracer == nil {
		tracer = &telemetry.DummyTracer{}
	}
	return &Monitor{
		dir:      dir,
		campaign: campaign,
		recorder: recorder,
		manager:  manager,
		watchDog: watchDog,
		tracer:   tracer,
		logger:   logger.Named("crash_monitor"),
		done:     make(chan struct{}),
	}
}

// Start begins watching the crash directory, which must exist.
func (m *Monitor) Start() error {
	watchCtx, cancel := context.WithCancel(context.Background())

	fileChan := make(chan string, 1024)
	wd, err := m.watchDog.New(watchCtx, fileChan, isArtifact)
	if err != nil {
		cancel()
		return err
	}
	if err := wd.AddDir(m.dir); err != nil {
		cancel()
		return err
	}
	m.cancel = cancel

	crashChan := make(chan types.CrashMessage, 1024)
	m.manager.RegisterCrashChan(context.WithValue(watchCtx, telemetry.TracerKey{}, m.tracer), crashChan)
	go m.run(fileChan, crashChan)

	m.logger.Debug("watching crash directory", zap.String("dir", m.dir))
	return nil
}

// Stop ends the watch and waits until pending notifications are forwarded.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unique is the number of distinct artifacts created so far in this run.
func (m *Monitor) Unique() uint64 {
	return m.unique.Load()
}

func (m *Monitor) run(fileChan <-chan string, crashChan chan<- types.CrashMessage) {
	defer close(m.done)
	defer close(crashChan)

	seen := make(map[string]struct{})
	for crashFile := range fileChan {
		fingerprint, _ := ParseFileName(crashFile)
		if _, ok := seen[fingerprint]; ok {
			continue
		}
		seen[fingerprint] = struct{}{}

		if m.unique.Add(1) == 1 {
			m.tracer.AddEvent("first_unique_crash", telemetry.NewEventAttributes(map[string]string{
				"crash.file": filepath.Base(crashFile),
			}))
		}
		seedID, _ := m.recorder.SeedFor(fingerprint)
		crashChan <- types.CrashMessage{
			RunID:       m.campaign.RunID,
			Target:      m.campaign.Target,
			Fingerprint: fingerprint,
			CrashFile:   crashFile,
			SeedID:      seedID,
			FoundAt:     time.Now(),
		}
	}
}

// isArtifact filters out in-flight temporary files, which are hidden, and
// anything not named like a crash.
func isArtifact(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := ParseFileName(base)
	return ok
}
