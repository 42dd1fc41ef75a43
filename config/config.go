package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCorpusDir        = "corpus"
	DefaultCrashDir         = "crashes"
	DefaultScratchDir       = "tmp_inputs"
	DefaultWorkerCount      = 16
	DefaultExecTimeout      = 500 * time.Millisecond
	DefaultMutationsPerCase = 8
	DefaultStatsInterval    = time.Second
)

type AppConfig struct {
	Target     string   // path of the program under test
	TargetArgs []string // passed verbatim before the scratch file path

	CorpusDir  string
	CrashDir   string
	ScratchDir string

	FuzzConfig    FuzzConfig
	StatsInterval time.Duration

	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string

	TelemetryEnabled bool
	LogLevel         string
	ServiceName      string
}

type FuzzConfig struct {
	WorkerCount        int
	ExecTimeout        time.Duration
	MutationsPerCase   int
	InterestingSignals []string // signal names ("SIGSEGV", "SEGV") or numbers ("11")
	RNGSeed            uint64   // 0 picks a random seed per worker
}

// fileConfig mirrors AppConfig for the optional YAML config file.
type fileConfig struct {
	CorpusDir          string   `yaml:"corpus_dir"`
	CrashDir           string   `yaml:"crash_dir"`
	ScratchDir         string   `yaml:"scratch_dir"`
	WorkerCount        int      `yaml:"worker_count"`
	ExecTimeout        string   `yaml:"exec_timeout"`
	MutationsPerCase   int      `yaml:"mutations_per_case"`
	InterestingSignals []string `yaml:"interesting_signals"`
	RNGSeed            uint64   `yaml:"rng_seed"`
	StatsInterval      string   `yaml:"stats_interval"`
	DatabaseURL        string   `yaml:"database_url"`
	RabbitMQURL        string   `yaml:"rabbitmq_url"`
	RedisSentinelHosts string   `yaml:"redis_sentinel_hosts"`
	RedisMasterName    string   `yaml:"redis_master"`
	RedisUrl           string   `yaml:"redis_url"`
	LogLevel           string   `yaml:"log_level"`
	ServiceName        string   `yaml:"service_name"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		CorpusDir:  DefaultCorpusDir,
		CrashDir:   DefaultCrashDir,
		ScratchDir: DefaultScratchDir,
		FuzzConfig: FuzzConfig{
			WorkerCount:        DefaultWorkerCount,
			ExecTimeout:        DefaultExecTimeout,
			MutationsPerCase:   DefaultMutationsPerCase,
			InterestingSignals: []string{"SIGSEGV"},
		},
		StatsInterval: DefaultStatsInterval,
		LogLevel:      "info",
		ServiceName:   "blackfuzz",
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (skipped when path is empty), a .env file and the process environment, in
// that order of increasing precedence. The target is not set here.
func LoadConfig(path string) (*AppConfig, error) {
	config := defaultConfig()

	// a missing .env is fine
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("BLACKFUZZ_CONFIG")
	}
	if path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()
	return config, nil
}

func (c *AppConfig) applyFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(content, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.CorpusDir, fc.CorpusDir)
	setString(&c.CrashDir, fc.CrashDir)
	setString(&c.ScratchDir, fc.ScratchDir)
	if fc.WorkerCount != 0 {
		c.FuzzConfig.WorkerCount = fc.WorkerCount
	}
	c.FuzzConfig.ExecTimeout = parseDuration(fc.ExecTimeout, c.FuzzConfig.ExecTimeout)
	if fc.MutationsPerCase != 0 {
		c.FuzzConfig.MutationsPerCase = fc.MutationsPerCase
	}
	if len(fc.InterestingSignals) > 0 {
		c.FuzzConfig.InterestingSignals = fc.InterestingSignals
	}
	if fc.RNGSeed != 0 {
		c.FuzzConfig.RNGSeed = fc.RNGSeed
	}
	c.StatsInterval = parseDuration(fc.StatsInterval, c.StatsInterval)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.RabbitMQURL, fc.RabbitMQURL)
	setString(&c.RedisSentinelHosts, fc.RedisSentinelHosts)
	setString(&c.RedisMasterName, fc.RedisMasterName)
	setString(&c.RedisUrl, fc.RedisUrl)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.ServiceName, fc.ServiceName)
	return nil
}

func (c *AppConfig) applyEnv() {
	setString(&c.CorpusDir, os.Getenv("CORPUS_DIR"))
	setString(&c.CrashDir, os.Getenv("CRASH_DIR"))
	setString(&c.ScratchDir, os.Getenv("SCRATCH_DIR"))

	c.FuzzConfig.WorkerCount = parseInt(os.Getenv("WORKER_COUNT"), c.FuzzConfig.WorkerCount)
	c.FuzzConfig.ExecTimeout = parseDuration(os.Getenv("EXEC_TIMEOUT"), c.FuzzConfig.ExecTimeout)
	c.FuzzConfig.MutationsPerCase = parseInt(os.Getenv("MUTATIONS_PER_CASE"), c.FuzzConfig.MutationsPerCase)
	if sigs := os.Getenv("INTERESTING_SIGNALS"); sigs != "" {
		c.FuzzConfig.InterestingSignals = SplitList(sigs)
	}
	if seed, err := strconv.ParseUint(os.Getenv("RNG_SEED"), 10, 64); err == nil {
		c.FuzzConfig.RNGSeed = seed
	}
	c.StatsInterval = parseDuration(os.Getenv("STATS_INTERVAL"), c.StatsInterval)

	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.RabbitMQURL, os.Getenv("RABBITMQ_URL"))
	setString(&c.RedisSentinelHosts, os.Getenv("REDIS_SENTINEL_HOSTS"))
	setString(&c.RedisMasterName, os.Getenv("REDIS_MASTER"))
	setString(&c.RedisUrl, os.Getenv("OVERRIDE_REDIS_URL")) // optional, for local dev
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.ServiceName, os.Getenv("SERVICE_NAME"))

	c.TelemetryEnabled = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// Validate reports the first setting that would keep the fuzzer from running.
func (c *AppConfig) Validate() error {
	if c.Target == "" {
		return errors.New("expected at least one argument: the target program")
	}
	if c.FuzzConfig.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.FuzzConfig.WorkerCount)
	}
	if c.FuzzConfig.ExecTimeout <= 0 {
		return fmt.Errorf("exec timeout must be positive, got %s", c.FuzzConfig.ExecTimeout)
	}
	if c.FuzzConfig.MutationsPerCase < 1 {
		return fmt.Errorf("mutations per case must be at least 1, got %d", c.FuzzConfig.MutationsPerCase)
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be positive, got %s", c.StatsInterval)
	}
	if c.CorpusDir == "" || c.CrashDir == "" || c.ScratchDir == "" {
		return errors.New("corpus, crash and scratch locations must not be empty")
	}
	if c.RedisUrl == "" && (c.RedisSentinelHosts == "") != (c.RedisMasterName == "") {
		return errors.New("REDIS_SENTINEL_HOSTS and REDIS_MASTER must be set together")
	}
	if _, err := c.Signals(); err != nil {
		return err
	}
	return nil
}

// Signals resolves InterestingSignals to signal numbers.
func (c *AppConfig) Signals() ([]syscall.Signal, error) {
	if len(c.FuzzConfig.InterestingSignals) == 0 {
		return nil, errors.New("at least one interesting signal is required")
	}
	sigs := make([]syscall.Signal, 0, len(c.FuzzConfig.InterestingSignals))
	for _, name := range c.FuzzConfig.InterestingSignals {
		sig, err := ParseSignal(name)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// ParseSignal accepts "SIGSEGV", "segv" or "11".
func ParseSignal(s string) (syscall.Signal, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n > 64 {
			return 0, fmt.Errorf("signal number out of range: %d", n)
		}
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
