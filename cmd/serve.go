package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/server"
)

var addr string // HTTP listen address

// serveCmd runs the collector, the optimization loop and the HTTP server
// until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the optimization loop and serve results over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, cfg); err != nil {
			logrus.Fatalf("Serve failed: %v", err)
		}
		logrus.Info("Shutdown complete.")
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, e.g. :8082)")
}

// serve starts every component and blocks until ctx is done or one of them
// fails. Shutdown runs in reverse: HTTP, then the loop, then the collector.
func serve(ctx context.Context, cfg optim.Config) error {
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	if err := eng.collector.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer eng.collector.Stop()

	if err := eng.optimizer.InitializeAlgorithms(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"seed":     eng.optimizer.Seed(),
		"strategy": eng.optimizer.Strategy(),
		"source":   cfg.Collector.Source,
		"skus":     eng.store.Current().Len(),
	}).Info("Optimizer ready")

	srv := server.New(eng.optimizer, cfg.Server)
	g, gctx := errgroup.WithContext(ctx)

	// The loop stops only once the HTTP server has shut down.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	g.Go(func() error {
		defer stopLoop()
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error { return eng.optimizer.Run(loopCtx) })
	return g.Wait()
}
