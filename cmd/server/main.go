// Command server hosts the HTTP surface: session creation, upload ingress,
// and read access to video records.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/config"
	"github.com/0necontroller/vellum-stream/internal/httpapi"
	"github.com/0necontroller/vellum-stream/internal/ingress"
	"github.com/0necontroller/vellum-stream/internal/logging"
	"github.com/0necontroller/vellum-stream/internal/queue"
	"github.com/0necontroller/vellum-stream/internal/session"
	"github.com/0necontroller/vellum-stream/internal/store"
	"github.com/0necontroller/vellum-stream/internal/validator"
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

	logger.Info("starting server", zap.String("port", cfg.Server.Port))

	if err := os.MkdirAll(cfg.Server.UploadDir, 0o755); err != nil {
		logger.Fatal("could not create upload directory", zap.Error(err))
	}

	st, err := store.New(cfg.Store.Path, logger)
	if err != nil {
		logger.Fatal("could not open video record store", zap.Error(err))
	}
	defer st.Close()

	producer := queue.NewProducer(cfg.Queue.Brokers, cfg.Queue.Topic, cfg.Queue.User, cfg.Queue.Password, logger)
	defer producer.Close()

	v := validator.New(cfg.Upload)
	sessions := session.New(st, v, cfg.ObjectStore.Bucket, cfg.ObjectStore.Endpoint)
	direct := ingress.NewDirect(st, v, producer, cfg.Server.UploadDir, logger)
	resumable := ingress.NewResumable(st, v, producer, cfg.Server.UploadDir, logger)

	handlers := httpapi.NewHandlers(sessions, st, direct, logger)
	router := httpapi.NewRouter(handlers, resumable, cfg.Server.APIKey)
	srv := httpapi.NewServer(":"+cfg.Server.Port, router)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()
	logger.Info("server ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
