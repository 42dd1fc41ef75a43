package config

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

var envKeys = []string{
	"BLACKFUZZ_CONFIG", "CORPUS_DIR", "CRASH_DIR", "SCRATCH_DIR", "WORKER_COUNT",
	"EXEC_TIMEOUT", "MUTATIONS_PER_CASE", "INTERESTING_SIGNALS", "RNG_SEED",
	"STATS_INTERVAL", "DATABASE_URL", "RABBITMQ_URL", "REDIS_SENTINEL_HOSTS",
	"REDIS_MASTER", "OVERRIDE_REDIS_URL", "LOG_LEVEL", "SERVICE_NAME",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CorpusDir != "corpus" || cfg.CrashDir != "crashes" || cfg.ScratchDir != "tmp_inputs" {
		t.Errorf("unexpected directories: %q %q %q", cfg.CorpusDir, cfg.CrashDir, cfg.ScratchDir)
	}
	if cfg.FuzzConfig.WorkerCount != 16 {
		t.Errorf("WorkerCount = %d, want 16", cfg.FuzzConfig.WorkerCount)
	}
	if cfg.FuzzConfig.ExecTimeout != 500*time.Millisecond {
		t.Errorf("ExecTimeout = %s, want 500ms", cfg.FuzzConfig.ExecTimeout)
	}
	if cfg.FuzzConfig.MutationsPerCase != 8 {
		t.Errorf("MutationsPerCase = %d, want 8", cfg.FuzzConfig.MutationsPerCase)
	}
	if cfg.StatsInterval != time.Second {
		t.Errorf("StatsInterval = %s, want 1s", cfg.StatsInterval)
	}
	if cfg.TelemetryEnabled {
		t.Error("telemetry should be disabled without an OTLP endpoint")
	}
	sigs, err := cfg.Signals()
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(sigs) != 1 || sigs[0] != syscall.SIGSEGV {
		t.Errorf("default signals = %v, want [SIGSEGV]", sigs)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "blackfuzz.yaml")
	yamlContent := `
corpus_dir: /data/seeds
worker_count: 4
exec_timeout: 250ms
interesting_signals: [SIGSEGV, SIGABRT]
log_level: debug
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("EXEC_TIMEOUT", "not-a-duration")
	t.Setenv("RNG_SEED", "42")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CorpusDir != "/data/seeds" {
		t.Errorf("CorpusDir = %q, want value from file", cfg.CorpusDir)
	}
	if cfg.FuzzConfig.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, environment should win over file", cfg.FuzzConfig.WorkerCount)
	}
	if cfg.FuzzConfig.ExecTimeout != 250*time.Millisecond {
		t.Errorf("ExecTimeout = %s, invalid env value should keep file value", cfg.FuzzConfig.ExecTimeout)
	}
	if cfg.FuzzConfig.RNGSeed != 42 {
		t.Errorf("RNGSeed = %d, want 42", cfg.FuzzConfig.RNGSeed)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	sigs, err := cfg.Signals()
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(sigs) != 2 || sigs[1] != syscall.SIGABRT {
		t.Errorf("signals = %v", sigs)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("crash_dir: out\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BLACKFUZZ_CONFIG", path)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CrashDir != "out" {
		t.Errorf("CrashDir = %q, want out", cfg.CrashDir)
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("worker_count: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		c := defaultConfig()
		c.Target = "/bin/true"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"no target", func(c *AppConfig) { c.Target = "" }},
		{"no workers", func(c *AppConfig) { c.FuzzConfig.WorkerCount = 0 }},
		{"zero timeout", func(c *AppConfig) { c.FuzzConfig.ExecTimeout = 0 }},
		{"zero mutations", func(c *AppConfig) { c.FuzzConfig.MutationsPerCase = 0 }},
		{"zero stats interval", func(c *AppConfig) { c.StatsInterval = 0 }},
		{"empty crash dir", func(c *AppConfig) { c.CrashDir = "" }},
		{"unknown signal", func(c *AppConfig) { c.FuzzConfig.InterestingSignals = []string{"SIGNOPE"} }},
		{"no signals", func(c *AppConfig) { c.FuzzConfig.InterestingSignals = nil }},
		{"half sentinel config", func(c *AppConfig) { c.RedisSentinelHosts = "a:26379" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want syscall.Signal
	}{
		{"SIGSEGV", syscall.SIGSEGV},
		{"segv", syscall.SIGSEGV},
		{" 11 ", syscall.Signal(11)},
		{"abrt", syscall.SIGABRT},
		{"SIGILL", syscall.SIGILL},
	}
	for _, tt := range tests {
		got, err := ParseSignal(tt.in)
		if err != nil {
			t.Errorf("ParseSignal(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSignal(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "0", "-3", "999", "SIGWHAT"} {
		if _, err := ParseSignal(bad); err == nil {
			t.Errorf("ParseSignal(%q) should fail", bad)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" SIGSEGV, ,SIGABRT,")
	if len(got) != 2 || got[0] != "SIGSEGV" || got[1] != "SIGABRT" {
		t.Errorf("SplitList = %q", got)
	}
}
