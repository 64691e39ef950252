// Package dispatch реализует Batch Dispatcher (C5): по batch_id выбирает
// заказы, готовые к постановке, и раскладывает их по дорожке orders по
// одному: Pool.Handle из lib/workerpool вызывает обработчик в горутине
// вызывающего, так что постановки идут последовательно.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
	"github.com/natura-rpa/gsp-dispatch/lib/workerpool"
)

// Store — подмножество storage.Store, нужное Dispatcher'у.
type Store interface {
	TransitionBatch(ctx context.Context, batchID int64, from []models.BatchStatus, to models.BatchStatus, startedAtNow, finishedAtNow bool) (bool, error)
	GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error)
	TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch storage.OrderPatch) (bool, error)
}

// QueueClient — подмножество queue.Queue, нужное Dispatcher'у.
type QueueClient interface {
	Enqueue(ctx context.Context, lane queue.Lane, name queue.TaskName, orderID, batchID int64, opts queue.TaskOptions) (string, error)
}

// Result — итог одного вызова ProcessBatch.
type Result struct {
	BatchID    int64 `json:"batch_id"`
	Dispatched int   `json:"dispatched"`
}

// Dispatcher раскладывает заказы одного пакета по очереди последовательно,
// по одному заказу за раз; сам не исполняет заказы, этим занимается
// internal/worker на другом конце дорожки orders.
type Dispatcher struct {
	store       Store
	queue       QueueClient
	taskOptions queue.TaskOptions
	log         *slog.Logger
}

// New создает Dispatcher с политикой исполнения задач заказа taskOptions
// (применяется к каждой постановке в дорожку orders).
func New(store Store, queueClient QueueClient, taskOptions queue.TaskOptions, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, queue: queueClient, taskOptions: taskOptions, log: log}
}

var pendingOrRetrying = []models.OrderStatus{models.OrderPending, models.OrderRetrying}

func isPendingOrRetrying(s models.OrderStatus) bool {
	for _, v := range pendingOrRetrying {
		if s == v {
			return true
		}
	}
	return false
}

// ProcessBatch реализует пятишаговую семантику диспетчера: пометить
// пакет running, выбрать заказы pending/retrying, поставить каждый в
// очередь, вернуть число заказов, обработанных без ошибки (заказ, который
// к моменту постановки уже не pending/retrying, пропускается, но тоже
// входит в это число). Пакет переводится в failed, если не удалось
// загрузить его заказы или если при постановке была ошибка и ни один
// заказ не прошел без ошибки; ошибка пометки running возвращается без
// перевода пакета в failed.
func (d *Dispatcher) ProcessBatch(ctx context.Context, batchID int64) (Result, error) {
	log := d.log.With(slog.Int64("batch_id", batchID))

	if _, err := d.store.TransitionBatch(ctx,
		batchID,
		[]models.BatchStatus{models.BatchPending, models.BatchRunning, models.BatchPaused},
		models.BatchRunning,
		true, false,
	); err != nil {
		return Result{}, fmt.Errorf("can't mark batch running: %w", err)
	}

	orders, err := d.store.GetBatchOrders(ctx, batchID, nil)
	if err != nil {
		d.failBatch(ctx, batchID, log)
		return Result{}, fmt.Errorf("can't load batch orders: %w", err)
	}

	candidates := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		if isPendingOrRetrying(o.Status) {
			candidates = append(candidates, o)
		}
	}

	var (
		dispatched int
		firstErr   error
	)

	pool := workerpool.New(func(ctx context.Context, order *models.Order) error {
		return d.dispatchOne(ctx, order, log)
	})
	pool.Create()

	for _, order := range candidates {
		if err := pool.Handle(ctx, order); err != nil {
			log.Error("can't dispatch order", sl.Err(err), slog.Int64("order_id", order.ID))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		dispatched++
	}
	pool.Wait()

	if firstErr != nil && dispatched == 0 {
		d.failBatch(ctx, batchID, log)
		return Result{}, fmt.Errorf("can't dispatch any order: %w", firstErr)
	}

	return Result{BatchID: batchID, Dispatched: dispatched}, nil
}

// dispatchOne переводит заказ в queued и ставит задачу в дорожку orders,
// затем сохраняет полученный task_id на строке заказа. Постановка
// происходит раньше сохранения task_id намеренно: если процесс упадет
// между постановкой и сохранением, заказ останется в queued без
// task_id — воркер все равно подберет и обработает его по order_id,
// просто диагностика "какая задача это подобрала" будет неполной.
func (d *Dispatcher) dispatchOne(ctx context.Context, order *models.Order, log *slog.Logger) error {
	claimed, err := d.store.TransitionOrder(ctx, order.ID,
		pendingOrRetrying,
		models.OrderQueued,
		storage.OrderPatch{ClearError: false},
	)
	if err != nil {
		return fmt.Errorf("can't transition order to queued: %w", err)
	}
	if !claimed {
		log.Warn("order no longer pending/retrying, skipping", slog.Int64("order_id", order.ID))
		return nil
	}

	taskID, err := d.queue.Enqueue(ctx, queue.LaneOrders, queue.TaskProcessOrder, order.ID, order.BatchID, d.taskOptions)
	if err != nil {
		return fmt.Errorf("can't enqueue order task: %w", err)
	}

	if _, err := d.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderQueued},
		models.OrderQueued,
		storage.OrderPatch{TaskID: &taskID},
	); err != nil {
		log.Error("can't store task_id on order, order is queued but untracked", sl.Err(err), slog.Int64("order_id", order.ID))
	}

	return nil
}

func (d *Dispatcher) failBatch(ctx context.Context, batchID int64, log *slog.Logger) {
	if _, err := d.store.TransitionBatch(ctx,
		batchID,
		[]models.BatchStatus{models.BatchRunning},
		models.BatchFailed,
		false, true,
	); err != nil {
		log.Error("can't transition batch to failed", sl.Err(err))
	}
}
