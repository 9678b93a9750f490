// Package config loads the configuration of the dispatchdemo command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root of the YAML document.
	Config struct {
		LogLevel string         `yaml:"log_level"`
		Executor ExecutorConfig `yaml:"executor"`
		Runtime  RuntimeConfig  `yaml:"runtime"`
		Demo     DemoConfig     `yaml:"demo"`
	}

	// ExecutorConfig configures the executor that drives the demo.
	ExecutorConfig struct {
		ThreadName       string        `yaml:"thread_name"`
		StackSize        int           `yaml:"stack_size"`
		IdleSlack        time.Duration `yaml:"idle_slack"`
		IdleSleep        time.Duration `yaml:"idle_sleep"`
		MaxQueueCapacity int           `yaml:"max_queue_capacity"`
		// TickInterval is the period at which the runtime is drained
		TickInterval time.Duration `yaml:"tick_interval"`
	}

	// RuntimeConfig configures the cooperative runtime.
	RuntimeConfig struct {
		MaxCapacity int `yaml:"max_capacity"`
	}

	// DemoConfig configures the generated workload.
	DemoConfig struct {
		Producers int           `yaml:"producers"`
		Sequences int           `yaml:"sequences"`
		Steps     int           `yaml:"steps"`
		StepDelay time.Duration `yaml:"step_delay"`
		// FailEvery makes every nth sequence fail, 0 to disable
		FailEvery int           `yaml:"fail_every"`
		Timeout   time.Duration `yaml:"timeout"`
	}
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		LogLevel: `info`,
		Executor: ExecutorConfig{
			ThreadName:       `dispatch`,
			IdleSlack:        time.Millisecond,
			IdleSleep:        time.Millisecond,
			MaxQueueCapacity: 1 << 24,
			TickInterval:     time.Millisecond * 16,
		},
		Runtime: RuntimeConfig{
			MaxCapacity: 0x7FEFFFFF,
		},
		Demo: DemoConfig{
			Producers: 4,
			Sequences: 8,
			Steps:     4,
			StepDelay: time.Millisecond * 5,
			Timeout:   time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults, then validates the
// result. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == `` {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf(`config: read %s: %w`, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf(`config: parse %s: %w`, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns an error describing every invalid field.
func (x Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(x.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if x.Executor.TickInterval <= 0 {
		errs = append(errs, errors.New(`config: executor.tick_interval must be positive`))
	}
	if x.Executor.IdleSlack < 0 || x.Executor.IdleSleep < 0 {
		errs = append(errs, errors.New(`config: executor idle durations must not be negative`))
	}
	if x.Executor.StackSize < 0 {
		errs = append(errs, errors.New(`config: executor.stack_size must not be negative`))
	}
	if x.Demo.Producers <= 0 || x.Demo.Sequences <= 0 || x.Demo.Steps <= 0 {
		errs = append(errs, errors.New(`config: demo producers, sequences, and steps must be positive`))
	}
	if x.Demo.StepDelay < 0 {
		errs = append(errs, errors.New(`config: demo.step_delay must not be negative`))
	}
	if x.Demo.FailEvery < 0 {
		errs = append(errs, errors.New(`config: demo.fail_every must not be negative`))
	}
	if x.Demo.Timeout <= 0 {
		errs = append(errs, errors.New(`config: demo.timeout must be positive`))
	}
	return errors.Join(errs...)
}

// ParseLevel converts a level name, e.g. `debug`, to a logiface.Level.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case `disabled`, `off`:
		return logiface.LevelDisabled, nil
	case `emerg`, `emergency`:
		return logiface.LevelEmergency, nil
	case `alert`:
		return logiface.LevelAlert, nil
	case `crit`, `critical`:
		return logiface.LevelCritical, nil
	case `err`, `error`:
		return logiface.LevelError, nil
	case `warn`, `warning`:
		return logiface.LevelWarning, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `info`, `informational`, ``:
		return logiface.LevelInformational, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case `trace`:
		return logiface.LevelTrace, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf(`config: unknown log level %q`, s)
	}
}
