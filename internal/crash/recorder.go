package crash

import (
	"blackfuzz/config"
	"blackfuzz/pkg/telemetry"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/fatih/color"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// FilePrefix starts the name of every crash artifact.
const FilePrefix = "crash_"

var highlight = color.New(color.FgRed, color.Bold).SprintFunc()

// Record describes a persisted crashing input.
type Record struct {
	Fingerprint uint64
	Path        string
	SeedID      string
}

func (r Record) Hex() string {
	return FormatFingerprint(r.Fingerprint)
}

// Fingerprint is the content identity of a crashing input.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func FormatFingerprint(fp uint64) string {
	return strconv.FormatUint(fp, 16)
}

// FileName is the artifact name for fp inside the crash directory.
func FileName(fp uint64) string {
	return FilePrefix + FormatFingerprint(fp)
}

// ParseFileName returns the fingerprint encoded in an artifact name.
func ParseFileName(name string) (string, bool) {
	hex, ok := strings.CutPrefix(filepath.Base(name), FilePrefix)
	if !ok || hex == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(hex, 16, 64); err != nil {
		return "", false
	}
	return hex, true
}

// Recorder persists crashing inputs into the crash directory, one file per
// fingerprint, and announces every crash on the operator output.
type Recorder struct {
	dir    string
	target string
	out    io.Writer
	logger *zap.Logger

	seeds sync.Map // fingerprint hex -> seed ID of the first recording
	found atomic.Bool

	outMu sync.Mutex
}

// NewRecorder writes into the configured crash directory and prints
// notifications to stdout.
func NewRecorder(appConfig *config.AppConfig, logger *zap.Logger) *Recorder {
	return New(appConfig.CrashDir, appConfig.Target, color.Output, logger)
}

func New(dir, target string, out io.Writer, logger *zap.Logger) *Recorder {
	return &Recorder{
		dir:    dir,
		target: target,
		out:    out,
		logger: logger.Named("recorder"),
	}
}

func (r *Recorder) Dir() string {
	return r.dir
}

// Record stores input as crash_<fingerprint>. The file is staged under a
// dot-prefixed temporary name in the crash directory and renamed into place.
// Recording bytes that are already on disk leaves the artifact untouched;
// concurrent recordings of the same bytes race on a rename of identical
// content.
func (r *Recorder) Record(ctx context.Context, input []byte, seedID string) (Record, error) {
	fp := Fingerprint(input)
	rec := Record{
		Fingerprint: fp,
		Path:        filepath.Join(r.dir, FileName(fp)),
		SeedID:      seedID,
	}
	r.seeds.LoadOrStore(rec.Hex(), seedID)

	event := "crash_found"
	if r.found.CompareAndSwap(false, true) {
		event = "first_crash_found"
	}
	telemetry.FromContext(ctx).AddEvent(event, telemetry.NewEventAttributes(map[string]string{
		"crash.fingerprint": rec.Hex(),
		"crash.seed":        seedID,
	}))

	r.notify(rec)

	if _, err := os.Lstat(rec.Path); err == nil {
		r.logger.Debug("crash already recorded", zap.String("path", rec.Path))
		return rec, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return rec, fmt.Errorf("failed to stat crash file: %w", err)
	}
	if err := renameio.WriteFile(rec.Path, input, 0644, renameio.WithTempDir(r.dir)); err != nil {
		return rec, fmt.Errorf("failed to write crash file %s: %w", rec.Path, err)
	}
	return rec, nil
}

// SeedFor returns the seed that produced the crash with the given hex
// fingerprint in this process, if any.
func (r *Recorder) SeedFor(hex string) (string, bool) {
	v, ok := r.seeds.Load(hex)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (r *Recorder) notify(rec Record) {
	seedName := filepath.Base(rec.SeedID)

	r.outMu.Lock()
	fmt.Fprintf(r.out, "[ %s ] %s - input `%s` - hash %s\n", r.target, highlight("Found crash"), seedName, rec.Hex())
	r.outMu.Unlock()

	r.logger.Info("Found crash",
		zap.String("target", r.target),
		zap.String("input", seedName),
		zap.String("hash", rec.Hex()),
	)
}
