// Package cli implements the dispatchdemo command.
package cli

import (
	"time"

	"github.com/joeycumines/go-dispatch/internal/config"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type flags struct {
	config     string
	logLevel   string
	threadName string
	producers  int
	sequences  int
	steps      int
	failEvery  int
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var f flags
	defaults := config.Default()

	root := &cobra.Command{
		Use:   `dispatchdemo`,
		Short: `Runs a workload through an executor and a cooperative runtime`,
		Long: `dispatchdemo starts an executor on a dedicated thread, drains a cooperative
runtime from it at a fixed tick, and submits sequences from concurrent
producers. Each sequence waits on executor tasks, delays, and nested
sequences. A summary is printed once every sequence settles.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), &f)
			if err != nil {
				return err
			}
			level, err := config.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := stumpy.L.New(
				stumpy.L.WithStumpy(stumpy.WithWriter(cmd.ErrOrStderr())),
				stumpy.L.WithLevel(level),
			).Logger()

			summary, err := Run(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			_, err = summary.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	fs := root.Flags()
	fs.StringVarP(&f.config, `config`, `c`, ``, `YAML config file`)
	fs.StringVar(&f.logLevel, `log-level`, defaults.LogLevel, `Log level (trace, debug, info, warning, error)`)
	fs.StringVar(&f.threadName, `thread-name`, defaults.Executor.ThreadName, `Name of the executor thread`)
	fs.IntVar(&f.producers, `producers`, defaults.Demo.Producers, `Number of concurrent producers`)
	fs.IntVar(&f.sequences, `sequences`, defaults.Demo.Sequences, `Sequences submitted per producer`)
	fs.IntVar(&f.steps, `steps`, defaults.Demo.Steps, `Steps per sequence`)
	fs.IntVar(&f.failEvery, `fail-every`, defaults.Demo.FailEvery, `Fail every nth sequence (0 to disable)`)
	fs.Duration(`step-delay`, defaults.Demo.StepDelay, `Delay yielded by each step`)
	fs.Duration(`tick`, defaults.Executor.TickInterval, `Interval at which the runtime is drained`)
	fs.Duration(`timeout`, defaults.Demo.Timeout, `Maximum duration of the run`)

	return root
}

// loadConfig loads the config file, if any, then applies every flag that was
// explicitly set.
func loadConfig(fs *pflag.FlagSet, f *flags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return config.Config{}, err
	}

	if fs.Changed(`log-level`) {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed(`thread-name`) {
		cfg.Executor.ThreadName = f.threadName
	}
	if fs.Changed(`producers`) {
		cfg.Demo.Producers = f.producers
	}
	if fs.Changed(`sequences`) {
		cfg.Demo.Sequences = f.sequences
	}
	if fs.Changed(`steps`) {
		cfg.Demo.Steps = f.steps
	}
	if fs.Changed(`fail-every`) {
		cfg.Demo.FailEvery = f.failEvery
	}
	for name, dst := range map[string]*time.Duration{
		`step-delay`: &cfg.Demo.StepDelay,
		`tick`:       &cfg.Executor.TickInterval,
		`timeout`:    &cfg.Demo.Timeout,
	} {
		if !fs.Changed(name) {
			continue
		}
		if *dst, err = fs.GetDuration(name); err != nil {
			return config.Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
