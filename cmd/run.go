package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/inference-sim/netsim/sim"
	"github.com/inference-sim/netsim/sim/store"
)

// overrides are run flags that replace configuration values when set.
type overrides struct {
	seed     *int64
	warmup   *int64
	measured *int64
	load     *float64
}

var (
	seed       int64
	warmup     int64
	measured   int64
	load       float64
	outputPath string // JSON lines destination; stdout when empty
	dbPath     string // SQLite result store; disabled when empty
	parallel   int    // Concurrent runs
)

// runCmd simulates every configuration given on the command line
var runCmd = &cobra.Command{
	Use:   "run <config.yaml>...",
	Short: "Run one simulation per configuration file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ov := overrides{}
		// Only flags the user set replace file values.
		if cmd.Flags().Changed("seed") {
			ov.seed = &seed
		}
		if cmd.Flags().Changed("warmup") {
			ov.warmup = &warmup
		}
		if cmd.Flags().Changed("measured") {
			ov.measured = &measured
		}
		if cmd.Flags().Changed("load") {
			ov.load = &load
		}

		configs := make([]*sim.Config, len(args))
		for i, path := range args {
			cfg, err := loadConfig(path, ov)
			if err != nil {
				return err
			}
			configs[i] = cfg
		}

		out := io.Writer(os.Stdout)
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		var db *store.Store
		if cmd.Flags().Changed("db") {
			var err error
			db, err = store.Open(dbPath)
			if err != nil {
				return err
			}
			atexit.Register(func() {
				if err := db.Close(); err != nil {
					logrus.Errorf("closing result store: %v", err)
				}
			})
			logrus.Infof("storing results in %s", db.Path())
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		results, err := runAll(ctx, configs, parallel)
		if err != nil {
			return err
		}
		return emit(out, db, results)
	},
}

// loadConfig reads a configuration file and applies flag overrides.
func loadConfig(path string, ov overrides) (*sim.Config, error) {
	cfg, err := sim.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if ov.seed != nil {
		cfg.RandomSeed = *ov.seed
	}
	if ov.warmup != nil {
		cfg.Warmup = *ov.warmup
	}
	if ov.measured != nil {
		cfg.Measured = *ov.measured
	}
	if ov.load != nil {
		cfg.Traffic.Load = *ov.load
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// runAll simulates configs with at most workers runs in flight. Results keep
// the order of configs. The first failure is returned after all runs finish.
func runAll(ctx context.Context, configs []*sim.Config, workers int) ([]*sim.Result, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > 1 && len(configs) > 1 {
		logrus.Warnf("%d concurrent runs: user_time, system_time and peak_memory cover the whole process, not one run", workers)
	}
	results := make([]*sim.Result, len(configs))
	errs := make([]error, len(configs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, cfg := range configs {
		i, cfg := i, cfg
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = runOne(ctx, cfg)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
	}
	return results, nil
}

// runOne builds and runs one simulation and fills in the identifiers and
// process resources of its result.
func runOne(ctx context.Context, cfg *sim.Config) (*sim.Result, error) {
	meter := newResourceMeter()
	start := time.Now()

	s, err := sim.NewSimulation(cfg)
	if err != nil {
		return nil, err
	}
	s.AfterCycle = meter.afterCycle
	res, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}

	res.RunID = xid.New().String()
	meter.finish(res)
	logrus.Infof("run %s finished in %s", res.RunID, time.Since(start))
	return res, nil
}

// emit writes one JSON object per line and inserts each result into db.
func emit(out io.Writer, db *store.Store, results []*sim.Result) error {
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding result %s: %w", r.RunID, err)
		}
		if _, err := fmt.Fprintln(out, string(data)); err != nil {
			return err
		}
		if db != nil {
			if err := db.Insert(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master random seed")
	runCmd.Flags().Int64Var(&warmup, "warmup", 0, "Warm-up cycles before measuring")
	runCmd.Flags().Int64Var(&measured, "measured", 1000, "Measured cycles")
	runCmd.Flags().Float64Var(&load, "load", 0, "Offered load in phits per cycle per server")
	runCmd.Flags().StringVar(&outputPath, "output", "", "Write results to this file instead of stdout")
	runCmd.Flags().StringVar(&dbPath, "db", "", "Also insert results into this SQLite database (a fresh name when given empty)")
	runCmd.Flags().IntVar(&parallel, "parallel", 1, "Number of configurations simulated concurrently; above 1 the resource fields of each result include the other runs")
}
