// Package main запускает Control API (C7): HTTP-сервер, через который
// операторы загружают пакеты заказов и управляют их жизненным циклом
// (start/pause/cancel/retry), читают прогресс и журнал каждого заказа.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	goredis "github.com/redis/go-redis/v9"

	"github.com/natura-rpa/gsp-dispatch/internal/cache"
	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/httpserver"
	"github.com/natura-rpa/gsp-dispatch/internal/loader"
	"github.com/natura-rpa/gsp-dispatch/internal/orchestrator"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/queue/kafka"
	"github.com/natura-rpa/gsp-dispatch/internal/storage/postgres"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/slogpretty"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.MustLoad()
	log := slogpretty.SetupLogger(cfg.Env)

	log.Info("starting control API", slog.String("address", cfg.HTTPServer.Address))

	store, err := postgres.New(cfg.Postgres, log)
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	q, err := kafka.New(cfg.Kafka, redisClient, log)
	if err != nil {
		log.Error("failed to init queue", sl.Err(err))
		os.Exit(1)
	}
	defer func() { _ = q.Close() }()

	statsCache, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to init cache", sl.Err(err))
		os.Exit(1)
	}

	batchTaskOptions := queue.TaskOptions{
		MaxRetries:        cfg.Retry.MaxRetries,
		DefaultRetryDelay: cfg.Retry.BaseDelay,
		AckLate:           true,
		HardTimeLimit:     cfg.Worker.BatchHardTimeLimit,
	}
	orderTaskOptions := queue.TaskOptions{
		MaxRetries:        cfg.Retry.MaxRetries,
		DefaultRetryDelay: cfg.Retry.BaseDelay,
		AckLate:           true,
		SoftTimeLimit:     cfg.Worker.OrderSoftTimeLimit,
		HardTimeLimit:     cfg.Worker.OrderHardTimeLimit,
	}

	orch := orchestrator.New(store, q, statsCache, batchTaskOptions, orderTaskOptions, log)

	srv := httpserver.New(store, orch, loader.LoadFile, cfg.Screenshot.Dir, log)

	readTimeout, writeTimeout, idleTimeout := httpserver.HTTPConfigTimeouts(cfg.HTTPServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      srv.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", sl.Err(err))
			os.Exit(1)
		}
	}()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt)
	<-sigchan
	cancel()

	log.Info("stopping server")
	if err := httpSrv.Shutdown(context.Background()); err != nil {
		log.Error("failed to shutdown server", sl.Err(err))
		os.Exit(1)
	}
}
