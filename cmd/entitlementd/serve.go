package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dietbot/entitlement/pkg/httpserver"
)

func newServeCmd() *cobra.Command {
	var noSweeper, noPruner bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the task sweeper and the usage pruner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			srv := httpserver.NewFromConfig(a.cfg.HTTP, httpserver.WithLogger(a.log))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx, a.api().Router()) })
			if !noSweeper {
				g.Go(func() error { return a.sweeper.Run(gctx) })
			}
			if !noPruner {
				g.Go(func() error { return a.pruner.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "do not run the deferred-task sweeper in this process")
	cmd.Flags().BoolVar(&noPruner, "no-pruner", false, "do not run usage retention pruning in this process")
	return cmd
}
