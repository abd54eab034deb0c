package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tinywan/redis-stream-sub000/internal/config"
	"github.com/Tinywan/redis-stream-sub000/internal/queue"
	"github.com/Tinywan/redis-stream-sub000/internal/queueservice"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	httpServer := queueservice.NewHTTPServer(rt.queue, rt.cfg.Server.HTTPPort, rt.logger)
	metricsErrCh, stopMetrics := rt.startMetrics()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)
	g.Go(func() error {
		return waitMetrics(gctx, metricsErrCh)
	})
	if !c.Bool("no-scheduler") {
		g.Go(func() error {
			return rt.queue.Scheduler().Run(gctx, queue.RunOptions{})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		rt.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()
		rt.queue.Scheduler().Stop()
		return errors.Join(httpServer.Shutdown(shutdownCtx), stopMetrics(shutdownCtx))
	})

	return g.Wait()
}

func runScheduler(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	metricsErrCh, stopMetrics := rt.startMetrics()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return waitMetrics(gctx, metricsErrCh)
	})
	g.Go(func() error {
		defer stop()
		return rt.queue.Scheduler().Run(gctx, queue.RunOptions{
			OnTick: func(promoted int, stats queue.Stats) {
				rt.logger.Debug("Scheduler tick",
					"promoted", promoted,
					"queue_length", stats.QueueLength,
					"delayed", stats.Delayed,
					"due_now", stats.DueNow,
				)
			},
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()
		return stopMetrics(shutdownCtx)
	})

	return g.Wait()
}

// waitMetrics returns the metrics server error, or nil once ctx is done
func waitMetrics(ctx context.Context, errCh <-chan error) error {
	if errCh == nil {
		<-ctx.Done()
		return nil
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
