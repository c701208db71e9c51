package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-boundary/config"
	"github.com/wippyai/ffi-boundary/consumer"
	"github.com/wippyai/ffi-boundary/ledger"
	"github.com/wippyai/ffi-boundary/memory"
	"github.com/wippyai/ffi-boundary/producer"
)

const (
	exitFailure      = 1 // a scenario failed
	exitCommandError = 2 // bad flags, unreadable config or scenario
)

type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// rootOptions holds the global flags and what PersistentPreRunE builds from
// them.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ffiboundary",
		Short: "Inspect and exercise the cffi binary boundary",
		Long: `ffiboundary drives a producer and a consumer that share one linear memory
through the flat cffi entry points.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug|info|warn|error)")

	cmd.AddCommand(newLayoutCommand(opts))
	cmd.AddCommand(newHeaderCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

func (o *rootOptions) setup() error {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return &exitError{err: err, code: exitCommandError}
		}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{err: err, code: exitCommandError}
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return &exitError{err: err, code: exitCommandError}
	}

	o.cfg = cfg
	o.log = log
	memory.SetLogger(log.Named("memory"))
	ledger.SetLogger(log.Named("ledger"))
	producer.SetLogger(log.Named("producer"))
	consumer.SetLogger(log.Named("consumer"))
	return nil
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
