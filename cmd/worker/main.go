// Command worker consumes upload-finished jobs from the queue and drives
// each one through probing, transcoding, publishing, and webhook delivery.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/config"
	"github.com/0necontroller/vellum-stream/internal/logging"
	"github.com/0necontroller/vellum-stream/internal/publish"
	"github.com/0necontroller/vellum-stream/internal/queue"
	"github.com/0necontroller/vellum-stream/internal/store"
	"github.com/0necontroller/vellum-stream/internal/webhook"
	"github.com/0necontroller/vellum-stream/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting worker")

	st, err := store.New(cfg.Store.Path, logger)
	if err != nil {
		logger.Fatal("could not open video record store", zap.Error(err))
	}
	defer st.Close()

	publisher, err := publish.New(cfg.ObjectStore.Endpoint, cfg.ObjectStore.AccessKey,
		cfg.ObjectStore.SecretKey, cfg.ObjectStore.Bucket, cfg.ObjectStore.UseSSL, logger)
	if err != nil {
		logger.Fatal("could not initialize object-store publisher", zap.Error(err))
	}

	dispatcher := webhook.New(st, cfg.Webhook.MaxAttempts, logger)
	sweeper := webhook.NewSweeper(dispatcher, st, cfg.Webhook.SweepInterval, logger)

	cwd, err := os.Getwd()
	if err != nil {
		logger.Fatal("could not determine working directory", zap.Error(err))
	}

	pipeline := &worker.Pipeline{
		Store:      st,
		Publisher:  publisher,
		Dispatcher: dispatcher,
		WorkBase:   filepath.Join(cwd, "data", "work"),
		Logger:     logger,
	}

	consumer := queue.NewConsumer(cfg.Queue.Brokers, cfg.Queue.Topic, cfg.Queue.GroupID,
		cfg.Queue.User, cfg.Queue.Password, logger)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Run(ctx)

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- consumer.Consume(ctx, pipeline.Handle)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down")
	case err := <-consumeErr:
		if err != nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}
	cancel()
}
