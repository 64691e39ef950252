// Package main заполняет хранилище одним фейковым пакетом заказов для
// ручной проверки Control API и воркеров без необходимости готовить
// настоящий файл с заказами. Количество заказов задается флагом -n.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/storage/postgres"
	batchgen "github.com/natura-rpa/gsp-dispatch/lib/generator/batch"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/slogpretty"
)

func main() {
	count := flag.Int("n", 10, "number of fake orders to generate")
	name := flag.String("name", "seed-batch", "name of the generated batch")
	flag.Parse()

	cfg := config.MustLoad()
	log := slogpretty.SetupLogger(cfg.Env)

	store, err := postgres.New(cfg.Postgres, log)
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	orders := batchgen.GenerateOrders(*count)

	batchID, err := store.CreateBatch(context.Background(), *name, "generated by seed", "", orders)
	if err != nil {
		log.Error("failed to create seed batch", sl.Err(err))
		os.Exit(1)
	}

	log.Info("seed batch created", slog.Int64("batch_id", batchID), slog.Int("orders", len(orders)))
	fmt.Printf("batch_id=%d orders=%d\n", batchID, len(orders))
}
