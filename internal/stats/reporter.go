package stats

import (
	"blackfuzz/config"
	"blackfuzz/internal/types"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// UniqueCounter reports the number of distinct crash artifacts of the run.
type UniqueCounter interface {
	Unique() uint64
}

// Publisher receives every report besides the operator output.
type Publisher interface {
	Publish(ctx context.Context, r Report) error
}

// Report is one line of campaign statistics.
type Report struct {
	Target  string
	Cases   uint64
	Secs    uint64
	CPS     uint64
	Crashes uint64
	Unique  uint64
}

// NewReport derives integer seconds and cases per second from elapsed. The
// rate stays 0 until a full second has passed.
func NewReport(target string, snap Snapshot, unique uint64, elapsed time.Duration) Report {
	secs := uint64(elapsed / time.Second)
	var cps uint64
	if secs > 0 {
		cps = snap.Cases / secs
	}
	return Report{
		Target:  target,
		Cases:   snap.Cases,
		Secs:    secs,
		CPS:     cps,
		Crashes: snap.Crashes,
		Unique:  unique,
	}
}

func (r Report) String() string {
	return fmt.Sprintf("| %s | %7d cases | %5d secs | %6d cps | %4d crashes | %4d unique |",
		r.Target, r.Cases, r.Secs, r.CPS, r.Crashes, r.Unique)
}

type Reporter struct {
	campaign  *types.Campaign
	counters  *Counters
	unique    UniqueCounter
	publisher Publisher
	interval  time.Duration
	out       io.Writer
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ReporterParams struct {
	fx.In
	Lc        fx.Lifecycle
	Config    *config.AppConfig
	Campaign  *types.Campaign
	Counters  *Counters
	Unique    UniqueCounter `optional:"true"`
	Publisher Publisher     `optional:"true"`
	Logger    *zap.Logger
}

func NewReporter(p ReporterParams) *Reporter {
	r := newReporter(p.Campaign, p.Counters, p.Unique, p.Publisher, p.Config.StatsInterval, color.Output, p.Logger)
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.Stop()
			return nil
		},
	})
	return r
}

func newReporter(
	campaign *types.Campaign,
	counters *Counters,
	unique UniqueCounter,
	publisher Publisher,
	interval time.Duration,
	out io.Writer,
	logger *zap.Logger,
) *Reporter {
	if interval <= 0 {
		interval = config.DefaultStatsInterval
	}
	return &Reporter{
		campaign:  campaign,
		counters:  counters,
		unique:    unique,
		publisher: publisher,
		interval:  interval,
		out:       out,
		logger:    logger.Named("stats"),
	}
}

func (r *Reporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()
}

func (r *Reporter) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.logger.Info("final stats", zap.Stringer("report", r.Current()))
}

// Current builds a report for the present moment.
func (r *Reporter) Current() Report {
	snap := r.counters.Snapshot()
	var unique uint64
	if r.unique != nil {
		unique = r.unique.Unique()
	}
	return NewReport(r.campaign.Target, snap, unique, time.Since(r.campaign.StartedAt))
}

func (r *Reporter) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := r.Current()
			fmt.Fprintln(r.out, report)
			if r.publisher != nil {
				if err := r.publisher.Publish(ctx, report); err != nil && ctx.Err() == nil {
					r.logger.Warn("failed to publish stats", zap.Error(err))
				}
			}
		}
	}
}
