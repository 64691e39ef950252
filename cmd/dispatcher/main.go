// Package main запускает процесс диспетчера пакетов (C5): потребляет
// дорожку batches, для каждой задачи process_batch ставит в очередь все
// подходящие заказы пакета, по одному заказу за раз.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	goredis "github.com/redis/go-redis/v9"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/dispatch"
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

	log.Info("starting batch dispatcher")

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

	orderTaskOptions := queue.TaskOptions{
		MaxRetries:        cfg.Retry.MaxRetries,
		DefaultRetryDelay: cfg.Retry.BaseDelay,
		AckLate:           true,
		SoftTimeLimit:     cfg.Worker.OrderSoftTimeLimit,
		HardTimeLimit:     cfg.Worker.OrderHardTimeLimit,
	}

	d := dispatch.New(store, q, orderTaskOptions, log)

	handler := func(ctx context.Context, task queue.Task) error {
		if task.Name != queue.TaskProcessBatch {
			log.Warn("ignoring task of unexpected kind", slog.String("task_name", string(task.Name)))
			return nil
		}

		result, err := d.ProcessBatch(ctx, task.BatchID)
		if err != nil {
			return fmt.Errorf("process batch %d: %w", task.BatchID, err)
		}

		log.Info("batch dispatched", slog.Int64("batch_id", result.BatchID), slog.Int("dispatched", result.Dispatched))
		return nil
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt)
	go func() {
		<-sigchan
		log.Info("shutting down dispatcher")
		cancel()
	}()

	if err := q.Consume(ctx, queue.LaneBatches, handler); err != nil && ctx.Err() == nil {
		log.Error("consume loop exited with error", sl.Err(err))
		os.Exit(1)
	}
}
