// Package main запускает один процесс-воркер (C4): потребляет дорожку
// orders, прогоняет каждый заказ через BrowserDriver и фиксирует исход
// в хранилище. Число одновременных процессов задается cfg.Worker.Count
// на уровне оркестрации развертывания (отдельные процессы, а не горутины
// внутри одного), сам процесс всегда исполняет ровно одну задачу
// одновременно (prefetch=1).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/driver"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/queue/kafka"
	"github.com/natura-rpa/gsp-dispatch/internal/storage/postgres"
	"github.com/natura-rpa/gsp-dispatch/internal/worker"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/slogpretty"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.MustLoad()
	log := slogpretty.SetupLogger(cfg.Env)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = uuid.NewString()
	}
	log = log.With(slog.String("worker_id", workerID))

	log.Info("starting order worker")

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

	browser, err := driver.Launch(cfg.Playwright, cfg.GSP, cfg.Proxy, cfg.Screenshot, log)
	if err != nil {
		log.Error("failed to launch browser driver", sl.Err(err))
		os.Exit(1)
	}
	defer func() { _ = browser.Close() }()

	w := worker.New(workerID, store, browser, q, cfg.Retry, log)

	handler := func(ctx context.Context, task queue.Task) (err error) {
		if task.Name != queue.TaskProcessOrder {
			log.Warn("ignoring task of unexpected kind", slog.String("task_name", string(task.Name)))
			return nil
		}

		defer func() {
			if rec := recover(); rec != nil {
				log.Error("order processing panicked", slog.Any("panic", rec))
				err = w.HandleUnexpectedError(ctx, task, fmt.Errorf("panic: %v", rec))
			}
		}()

		return w.ProcessOrder(ctx, task)
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt)
	go func() {
		<-sigchan
		log.Info("shutting down worker")
		cancel()
	}()

	if err := q.Consume(ctx, queue.LaneOrders, handler); err != nil && ctx.Err() == nil {
		log.Error("consume loop exited with error", sl.Err(err))
		os.Exit(1)
	}
}
