package main

import (
	"blackfuzz/config"
	"blackfuzz/internal/corpus"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var rootCmd = &cobra.Command{
	Use:   "blackfuzz [flags] <target> [target args...]",
	Short: "Mutation-based blackbox fuzzer",
	Long: `blackfuzz feeds randomly mutated corpus inputs to a target program and
keeps every input that makes the target die from an interesting signal.
The target receives its fixed arguments followed by the path of the input file.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 {
			return errors.New("expected at least one argument: the target program")
		}
		return nil
	},
	RunE: runFuzz,
}

func init() {
	flags := rootCmd.Flags()
	// everything after the target belongs to the target
	flags.SetInterspersed(false)

	flags.String("config", "", "YAML config file (default $BLACKFUZZ_CONFIG)")
	flags.String("corpus", config.DefaultCorpusDir, "seed directory or .tar.gz bundle")
	flags.String("crashes", config.DefaultCrashDir, "directory receiving crashing inputs")
	flags.String("scratch", config.DefaultScratchDir, "directory holding per-worker input files")
	flags.Int("workers", config.DefaultWorkerCount, "number of parallel workers")
	flags.Duration("timeout", config.DefaultExecTimeout, "wall-clock budget per execution")
	flags.Int("mutations", config.DefaultMutationsPerCase, "byte overwrites per case")
	flags.StringSlice("signals", []string{"SIGSEGV"}, "signals that count as crashes")
	flags.Duration("stats-interval", config.DefaultStatsInterval, "stats line cadence")
	flags.Uint64("seed", 0, "random seed, 0 for a random one")
	flags.String("log-level", "info", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFuzz(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Target = args[0]
	cfg.TargetArgs = args[1:]
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := exec.LookPath(cfg.Target); err != nil {
		return fmt.Errorf("target is not executable: %w", err)
	}
	cmd.SilenceUsage = true

	// an empty corpus must stop us before any directory or goroutine exists
	store, loaded, err := corpus.Load(cmd.Context(), cfg.CorpusDir)
	if err != nil {
		return err
	}

	app := newApp(cfg, store, loaded)
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancelStart := context.WithTimeout(cmd.Context(), app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	sig := <-app.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return err
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("exited with code %d", sig.ExitCode)
	}
	return nil
}

// applyFlags overrides file and environment settings with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.AppConfig) error {
	flags := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("corpus", func() (e error) { cfg.CorpusDir, e = flags.GetString("corpus"); return })
	set("crashes", func() (e error) { cfg.CrashDir, e = flags.GetString("crashes"); return })
	set("scratch", func() (e error) { cfg.ScratchDir, e = flags.GetString("scratch"); return })
	set("workers", func() (e error) { cfg.FuzzConfig.WorkerCount, e = flags.GetInt("workers"); return })
	set("timeout", func() (e error) { cfg.FuzzConfig.ExecTimeout, e = flags.GetDuration("timeout"); return })
	set("mutations", func() (e error) { cfg.FuzzConfig.MutationsPerCase, e = flags.GetInt("mutations"); return })
	set("signals", func() (e error) { cfg.FuzzConfig.InterestingSignals, e = flags.GetStringSlice("signals"); return })
	set("stats-interval", func() (e error) { cfg.StatsInterval, e = flags.GetDuration("stats-interval"); return })
	set("seed", func() (e error) { cfg.FuzzConfig.RNGSeed, e = flags.GetUint64("seed"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = flags.GetString("log-level"); return })
	return err
}
