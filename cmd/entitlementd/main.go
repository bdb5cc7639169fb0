// Command entitlementd runs the subscription entitlement engine: the HTTP API,
// the deferred-task sweeper and the usage retention pruner.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/dietbot/entitlement/pkg/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "entitlementd",
		Short:         "Subscription entitlement and deferred-task engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if len(envFiles) == 0 {
				if _, err := os.Stat(".env"); err != nil {
					return nil
				}
				envFiles = []string{".env"}
			}
			return config.LoadEnv(envFiles...)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment")

	root.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newMigrateCmd(),
		newPruneCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "entitlementd %s\n", Version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
