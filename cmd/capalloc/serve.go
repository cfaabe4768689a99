package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zipaJopa/capalloc/internal/scheduler"
	"github.com/zipaJopa/capalloc/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the allocator HTTP API and the rebalance scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sched := scheduler.New(a.logger)
		if err := sched.AddRebalance(a.cfg.RebalanceSchedule, a.alloc); err != nil {
			return err
		}

		server := web.NewServer(a.cfg.ListenAddr, a.alloc, a.logger)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.Start(gctx) })
		g.Go(func() error { return sched.Run(gctx) })

		err = g.Wait()
		if err != nil && ctx.Err() != nil {
			// Shutdown via signal, not a failure.
			return nil
		}
		return err
	},
}
