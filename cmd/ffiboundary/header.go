package main

import (
	"github.com/spf13/cobra"

	"github.com/wippyai/ffi-boundary/contract"
)

func newHeaderCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "header",
		Short: "Print the C header for every layout and entry point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return contract.WriteHeader(cmd.OutOrStdout())
		},
	}
}
