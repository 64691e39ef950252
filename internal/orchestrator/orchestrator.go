// Package orchestrator реализует операторские команды над пакетом (C6):
// старт, пауза, отмена и повтор, плюс кэшированное чтение статистики.
// В отличие от worker и dispatch, которые обрабатывают одну задачу,
// Orchestrator всегда действует на уровне пакета или одного заказа по
// прямому вызову оператора, а не по разбору очереди.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
)

// Store — подмножество storage.Store, нужное Orchestrator'у.
type Store interface {
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	TransitionBatch(ctx context.Context, batchID int64, from []models.BatchStatus, to models.BatchStatus, startedAtNow, finishedAtNow bool) (bool, error)
	TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch storage.OrderPatch) (bool, error)
	BatchStats(ctx context.Context, batchID int64) (*models.BatchStats, error)
	SystemStats(ctx context.Context) (*models.SystemStats, error)
}

// QueueClient — подмножество queue.Queue, нужное Orchestrator'у.
type QueueClient interface {
	Enqueue(ctx context.Context, lane queue.Lane, name queue.TaskName, orderID, batchID int64, opts queue.TaskOptions) (string, error)
	Revoke(ctx context.Context, taskID string, terminate bool) error
}

// StatsCache — подмножество cache.Client, нужное для чтения с кэшем перед
// хранилищем. Опционально: если nil, Orchestrator всегда читает хранилище.
type StatsCache interface {
	GetBatchStats(ctx context.Context, batchID int64) (*models.BatchStats, bool, error)
	SetBatchStats(ctx context.Context, batchID int64, stats *models.BatchStats) error
	InvalidateBatchStats(ctx context.Context, batchID int64) error
	GetSystemStats(ctx context.Context) (*models.SystemStats, bool, error)
	SetSystemStats(ctx context.Context, stats *models.SystemStats) error
}

// Orchestrator выполняет операторские команды поверх Store и Queue.
type Orchestrator struct {
	store            Store
	queue            QueueClient
	cache            StatsCache
	batchTaskOptions queue.TaskOptions
	orderTaskOptions queue.TaskOptions
	log              *slog.Logger
}

// New создает Orchestrator. cache может быть nil — тогда статистика
// всегда считается из Store. batchTaskOptions применяется к задачам
// дорожки batches (StartBatch), orderTaskOptions — к ручным повторам
// отдельных заказов (RetrySingleOrder/RetryBatchFailures), дорожка orders.
func New(store Store, queueClient QueueClient, cache StatsCache, batchTaskOptions, orderTaskOptions queue.TaskOptions, log *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, queue: queueClient, cache: cache, batchTaskOptions: batchTaskOptions, orderTaskOptions: orderTaskOptions, log: log}
}

// StartBatch переводит пакет pending/paused/failed → running и ставит
// задачу диспетчера в дорожку batches.
func (o *Orchestrator) StartBatch(ctx context.Context, batchID int64) error {
	claimed, err := o.store.TransitionBatch(ctx, batchID,
		[]models.BatchStatus{models.BatchPending, models.BatchPaused, models.BatchFailed},
		models.BatchRunning, true, false,
	)
	if err != nil {
		return fmt.Errorf("can't transition batch to running: %w", err)
	}
	if !claimed {
		return fmt.Errorf("batch %d is not in a startable state", batchID)
	}

	if _, err := o.queue.Enqueue(ctx, queue.LaneBatches, queue.TaskProcessBatch, 0, batchID, o.batchTaskOptions); err != nil {
		return fmt.Errorf("can't enqueue dispatcher task: %w", err)
	}

	o.invalidateBatchCache(ctx, batchID)
	return nil
}

// PauseBatch переводит пакет в paused, отзывает еще не стартовавшие
// задачи заказов (terminate=false — исполняющиеся заказы пауза не
// прерывает) и возвращает затронутые заказы в pending, чтобы следующий
// StartBatch снова их подобрал.
func (o *Orchestrator) PauseBatch(ctx context.Context, batchID int64) error {
	if _, err := o.store.TransitionBatch(ctx, batchID,
		[]models.BatchStatus{models.BatchRunning},
		models.BatchPaused, false, false,
	); err != nil {
		return fmt.Errorf("can't transition batch to paused: %w", err)
	}

	orders, err := o.store.GetBatchOrders(ctx, batchID, nil)
	if err != nil {
		return fmt.Errorf("can't load batch orders: %w", err)
	}

	for _, order := range orders {
		if order.Status != models.OrderPending && order.Status != models.OrderQueued {
			continue
		}

		if order.TaskID != nil {
			if err := o.queue.Revoke(ctx, *order.TaskID, false); err != nil {
				o.log.Warn("can't revoke order task on pause", sl.Err(err), slog.Int64("order_id", order.ID))
			}
		}

		if _, err := o.store.TransitionOrder(ctx, order.ID,
			[]models.OrderStatus{models.OrderPending, models.OrderQueued},
			models.OrderPending,
			storage.OrderPatch{},
		); err != nil {
			o.log.Error("can't reset order to pending on pause", sl.Err(err), slog.Int64("order_id", order.ID))
		}
	}

	o.invalidateBatchCache(ctx, batchID)
	return nil
}

// CancelBatch завершает пакет окончательно: отзывает pending/queued/retrying
// заказы с terminate=true и переводит каждый в cancelled.
func (o *Orchestrator) CancelBatch(ctx context.Context, batchID int64) error {
	if _, err := o.store.TransitionBatch(ctx, batchID,
		[]models.BatchStatus{models.BatchPending, models.BatchRunning, models.BatchPaused},
		models.BatchCancelled, false, true,
	); err != nil {
		return fmt.Errorf("can't transition batch to cancelled: %w", err)
	}

	orders, err := o.store.GetBatchOrders(ctx, batchID, nil)
	if err != nil {
		return fmt.Errorf("can't load batch orders: %w", err)
	}

	for _, order := range orders {
		if order.Status.Terminal() {
			continue
		}

		if order.TaskID != nil {
			if err := o.queue.Revoke(ctx, *order.TaskID, true); err != nil {
				o.log.Warn("can't revoke order task on cancel", sl.Err(err), slog.Int64("order_id", order.ID))
			}
		}

		if order.Status == models.OrderInProgress {
			// В процессе выполнения — отзыв выше идущее выполнение не
			// прерывает (флаг проверяется только перед стартом задачи), и
			// строка не форсируется в cancelled: воркер завершит ее через
			// собственный finish-путь.
			continue
		}

		if _, err := o.store.TransitionOrder(ctx, order.ID,
			[]models.OrderStatus{models.OrderPending, models.OrderQueued, models.OrderRetrying},
			models.OrderCancelled,
			storage.OrderPatch{FinishedAtNow: true},
		); err != nil {
			o.log.Error("can't cancel order", sl.Err(err), slog.Int64("order_id", order.ID))
		}
	}

	o.invalidateBatchCache(ctx, batchID)
	return nil
}

// RetryBatchFailures повторно ставит в очередь failed-заказы пакета,
// которым еще не исчерпан запас ручных повторов
// (retry_count < max_retries + models.ManualRetryCeilingBonus). Сам повтор
// retry_count не увеличивает (см. models.ManualRetryCeilingBonus).
func (o *Orchestrator) RetryBatchFailures(ctx context.Context, batchID int64) (int, error) {
	failed := models.OrderFailed
	orders, err := o.store.GetBatchOrders(ctx, batchID, &failed)
	if err != nil {
		return 0, fmt.Errorf("can't load failed orders: %w", err)
	}

	retried := 0
	for _, order := range orders {
		if order.RetryCount >= order.MaxRetries+models.ManualRetryCeilingBonus {
			continue
		}
		if err := o.retryOne(ctx, order); err != nil {
			o.log.Error("can't retry order", sl.Err(err), slog.Int64("order_id", order.ID))
			continue
		}
		retried++
	}

	if retried > 0 {
		if _, err := o.store.TransitionBatch(ctx, batchID,
			[]models.BatchStatus{models.BatchFailed, models.BatchCompleted},
			models.BatchRunning, false, false,
		); err != nil {
			o.log.Warn("can't reopen batch after manual retry", sl.Err(err))
		}
	}

	o.invalidateBatchCache(ctx, batchID)
	return retried, nil
}

// RetrySingleOrder переводит один failed/cancelled заказ обратно в
// retrying и ставит его в очередь, независимо от max_retries (ручной
// повтор — операторское решение, а не автоматическая политика).
func (o *Orchestrator) RetrySingleOrder(ctx context.Context, orderID int64) error {
	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("can't load order: %w", err)
	}

	if err := o.retryOne(ctx, order); err != nil {
		return err
	}

	o.invalidateBatchCache(ctx, order.BatchID)
	return nil
}

func (o *Orchestrator) retryOne(ctx context.Context, order *models.Order) error {
	claimed, err := o.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderFailed, models.OrderCancelled},
		models.OrderRetrying,
		storage.OrderPatch{ClearError: true},
	)
	if err != nil {
		return fmt.Errorf("can't transition order to retrying: %w", err)
	}
	if !claimed {
		return fmt.Errorf("order %d is not in a retryable state", order.ID)
	}

	taskID, err := o.queue.Enqueue(ctx, queue.LaneOrders, queue.TaskProcessOrder, order.ID, order.BatchID, o.orderTaskOptions)
	if err != nil {
		return fmt.Errorf("can't enqueue retry task: %w", err)
	}

	if _, err := o.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderRetrying},
		models.OrderRetrying,
		storage.OrderPatch{TaskID: &taskID},
	); err != nil {
		o.log.Error("can't store task_id for manual retry", sl.Err(err), slog.Int64("order_id", order.ID))
	}

	return nil
}

// BatchStats возвращает статистику пакета, предпочитая кэш живому
// пересчету, если кэш сконфигурирован и не истек.
func (o *Orchestrator) BatchStats(ctx context.Context, batchID int64) (*models.BatchStats, error) {
	if o.cache != nil {
		if stats, hit, err := o.cache.GetBatchStats(ctx, batchID); err == nil && hit {
			return stats, nil
		}
	}

	stats, err := o.store.BatchStats(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("can't compute batch stats: %w", err)
	}

	if o.cache != nil {
		if err := o.cache.SetBatchStats(ctx, batchID, stats); err != nil {
			o.log.Warn("can't cache batch stats", sl.Err(err))
		}
	}

	return stats, nil
}

// SystemStats — системная сводка с тем же read-through поведением, что и BatchStats.
func (o *Orchestrator) SystemStats(ctx context.Context) (*models.SystemStats, error) {
	if o.cache != nil {
		if stats, hit, err := o.cache.GetSystemStats(ctx); err == nil && hit {
			return stats, nil
		}
	}

	stats, err := o.store.SystemStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't compute system stats: %w", err)
	}

	if o.cache != nil {
		if err := o.cache.SetSystemStats(ctx, stats); err != nil {
			o.log.Warn("can't cache system stats", sl.Err(err))
		}
	}

	return stats, nil
}

func (o *Orchestrator) invalidateBatchCache(ctx context.Context, batchID int64) {
	if o.cache == nil {
		return
	}
	if err := o.cache.InvalidateBatchStats(ctx, batchID); err != nil {
		o.log.Warn("can't invalidate batch stats cache", sl.Err(err), slog.Int64("batch_id", batchID))
	}
}
