package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Tinywan/redis-stream-sub000/internal/config"
	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/queue"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func consume(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	var mu sync.Mutex
	enc := json.NewEncoder(c.App.Writer)
	printer := queue.HandlerFunc(func(_ context.Context, msg *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(msg)
	})

	consumer := rt.queue.NewConsumer(printer, queue.ConsumerOptions{
		NackOnFailure: c.Bool("nack-on-failure"),
	})
	metricsErrCh, stopMetrics := rt.startMetrics()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return waitMetrics(gctx, metricsErrCh)
	})
	g.Go(func() error {
		defer stop()
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		consumer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()
		return stopMetrics(shutdownCtx)
	})

	return g.Wait()
}
