package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// NewRootCommand creates the stakeledger command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stakeledger",
		Short: "StakeLedger - proportional reward distribution for staking pools",
		Long: `StakeLedger consumes pool, stake and funding events, applies them in a
single deterministic core, and keeps a hash-chained event log with
double-entry journals in Postgres.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewSimulateCommand())
	cmd.AddCommand(NewRebuildCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stakeledger %s\n", version)
		},
	}
}
