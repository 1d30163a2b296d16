// rwbench stresses a writer-preferring reader-writer lock with
// configurable reader and writer populations and checks the lock's
// invariants while it runs: writers keep two counters in sync, and any
// reader observing them apart has witnessed a mutual exclusion violation.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/syncxlab/syncx/metered"
	"github.com/syncxlab/syncx/pace"
)

type config struct {
	Readers   int    `yaml:"readers"`
	Writers   int    `yaml:"writers"`
	Duration  string `yaml:"duration"`
	ReadRate  int    `yaml:"read_rate"`  // reader arrivals per second, 0 = unpaced
	WriteRate int    `yaml:"write_rate"` // writer arrivals per second, 0 = unpaced
}

func defaultConfig() *config {
	return &config{
		Readers:  8,
		Writers:  2,
		Duration: "5s",
	}
}

func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides config fields with any flag set on the command line.
func applyFlags(fs *pflag.FlagSet, cfg, flags *config) {
	if fs.Changed("readers") {
		cfg.Readers = flags.Readers
	}
	if fs.Changed("writers") {
		cfg.Writers = flags.Writers
	}
	if fs.Changed("duration") {
		cfg.Duration = flags.Duration
	}
	if fs.Changed("read-rate") {
		cfg.ReadRate = flags.ReadRate
	}
	if fs.Changed("write-rate") {
		cfg.WriteRate = flags.WriteRate
	}
}

func newRootCommand() *cobra.Command {
	flags := defaultConfig()
	var configPath string

	cmd := &cobra.Command{
		Use:          "rwbench",
		Short:        "stress a writer-preferring reader-writer lock",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), cfg, flags)
			return run(cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&configPath, "config", "", "path to a YAML scenario file")
	fs.IntVar(&flags.Readers, "readers", flags.Readers, "number of reader goroutines")
	fs.IntVar(&flags.Writers, "writers", flags.Writers, "number of writer goroutines")
	fs.StringVar(&flags.Duration, "duration", flags.Duration, "how long to run")
	fs.IntVar(&flags.ReadRate, "read-rate", flags.ReadRate, "reader arrivals per second, 0 = unpaced")
	fs.IntVar(&flags.WriteRate, "write-rate", flags.WriteRate, "writer arrivals per second, 0 = unpaced")

	return cmd
}

func run(cfg *config) error {
	duration, err := time.ParseDuration(cfg.Duration)
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	lock := metered.New(metered.NewMetrics(registry), "rwbench")

	readPacer := pace.NewPacer(cfg.ReadRate, time.Second)
	defer readPacer.Stop()
	writePacer := pace.NewPacer(cfg.WriteRate, time.Second)
	defer writePacer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	logger.Info("starting bench",
		zap.Int("readers", cfg.Readers),
		zap.Int("writers", cfg.Writers),
		zap.Duration("duration", duration),
	)

	// Two counters that only ever change together under the write lock.
	var counterA, counterB int64
	var reads, writes, violations int64

	var eg errgroup.Group
	for i := 0; i < cfg.Readers; i++ {
		eg.Go(func() error {
			for {
				if err := readPacer.Acquire(ctx); err != nil {
					return nil
				}
				lock.RLock()
				a, b := counterA, counterB
				lock.RUnlock()
				if a != b {
					atomic.AddInt64(&violations, 1)
				}
				atomic.AddInt64(&reads, 1)
			}
		})
	}
	for i := 0; i < cfg.Writers; i++ {
		eg.Go(func() error {
			for {
				if err := writePacer.Acquire(ctx); err != nil {
					return nil
				}
				lock.Lock()
				counterA++
				// Widen the window in which a racing reader could
				// observe the counters apart.
				runtime.Gosched()
				counterB++
				lock.Unlock()
				atomic.AddInt64(&writes, 1)
			}
		})
	}
	_ = eg.Wait()

	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		logger.Debug("metric family",
			zap.String("name", family.GetName()),
			zap.Int("series", len(family.GetMetric())),
		)
	}

	logger.Info("bench complete",
		zap.Int64("reads", reads),
		zap.Int64("writes", writes),
		zap.Int64("violations", violations),
	)

	if violations > 0 {
		return fmt.Errorf("observed %d mutual exclusion violations", violations)
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
