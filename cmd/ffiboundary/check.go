package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/ffi-boundary/boundary"
	"github.com/wippyai/ffi-boundary/config"
	"github.com/wippyai/ffi-boundary/scenario"
)

type checkOptions struct {
	*rootOptions
	backend string
	direct  bool
	quiet   bool
}

func newCheckCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &checkOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check [scenario.yaml...]",
		Short: "Run boundary scenarios and print their traces",
		Long: `Run the built-in scenarios, or the given scenario files, each in a fresh
session, and print every call, result and ledger event.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (unreadable file, invalid scenario or config)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.backend, "backend", "", "override memory.backend (wazero|linear)")
	cmd.Flags().BoolVar(&opts.direct, "direct", false, "call entry points in process instead of through wazero")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only pass/fail lines")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions, files []string) error {
	var scenarios []*scenario.Scenario
	if len(files) == 0 {
		var err error
		if scenarios, err = scenario.Builtin(); err != nil {
			return &exitError{err: err, code: exitCommandError}
		}
	}
	for _, f := range files {
		sc, err := scenario.Load(f)
		if err != nil {
			return &exitError{err: fmt.Errorf("%s: %w", f, err), code: exitCommandError}
		}
		scenarios = append(scenarios, sc)
	}

	cfg := opts.cfg
	switch opts.backend {
	case "":
	case config.BackendWazero, config.BackendLinear:
		cfg.Memory.Backend = opts.backend
	default:
		return &exitError{err: fmt.Errorf("unknown backend %q", opts.backend), code: exitCommandError}
	}

	sessOpts := []boundary.Option{boundary.WithLogger(opts.log)}
	if opts.direct {
		sessOpts = append(sessOpts, boundary.WithDirectCalls())
	}

	w := cmd.OutOrStdout()
	failed := 0
	for _, sc := range scenarios {
		res, err := scenario.Run(cmd.Context(), sc, cfg, sessOpts...)
		if err != nil {
			fmt.Fprintf(w, "✗ %s\n  %v\n", sc.Name, err)
			failed++
			continue
		}
		if res.Passed() {
			fmt.Fprintf(w, "✓ %s\n", sc.Name)
		} else {
			fmt.Fprintf(w, "✗ %s\n", sc.Name)
			failed++
		}
		if !opts.quiet || !res.Passed() {
			for _, line := range res.Trace {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}

	fmt.Fprintf(w, "\n%d passed, %d failed\n", len(scenarios)-failed, failed)
	if failed > 0 {
		return &exitError{err: fmt.Errorf("%d scenario(s) failed", failed), code: exitFailure}
	}
	return nil
}
