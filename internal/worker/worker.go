// Package worker реализует обработчик одной задачи заказа (C4): берет
// order_id из задачи очереди, владеет им единолично на время выполнения,
// вызывает браузерный драйвер и записывает исход обратно в хранилище.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/driver"
	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
)

// Store — подмножество storage.Store, которое реально использует worker.
type Store interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderProducts(ctx context.Context, orderID int64) ([]*models.OrderProduct, error)
	TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch storage.OrderPatch) (bool, error)
	BumpRetry(ctx context.Context, orderID int64) error
	SetProductStatus(ctx context.Context, orderID int64, productCode string, status models.ProductStatus, errMsg *string) error
	AppendLog(ctx context.Context, entry *models.OrderLog) error
	RecomputeBatchCounters(ctx context.Context, batchID int64) error
}

// BrowserDriver — подмножество driver.Driver, вызываемое worker'ом.
type BrowserDriver interface {
	ExecuteOrder(ctx context.Context, orderID int64, consultoraCode string, products []models.OrderProduct, onProgress driver.ProgressFunc) driver.OrderResult
}

// QueueClient — подмножество queue.Queue, нужное worker'у: отчет о
// прогрессе и кооперативная постановка повтора.
type QueueClient interface {
	ReportProgress(ctx context.Context, taskID string, meta queue.ProgressMeta) error
	Retry(ctx context.Context, task queue.Task, countdown time.Duration) (string, error)
}

// Worker обрабатывает одну задачу за раз на процесс (prefetch=1 — см.
// Consume в internal/queue/kafka); внутри задачи никакого разделяемого
// изменяемого состояния между заказами нет: каждая задача открывает свою
// собственную сессию хранилища и запускает свой собственный вызов драйвера.
type Worker struct {
	id     string
	store  Store
	driver BrowserDriver
	queue  QueueClient
	retry  config.Retry
	log    *slog.Logger
}

// New создает Worker с идентификатором id (cmd/worker берет его из
// WORKER_ID или генерирует UUID), видимым
// в Order.WorkerID для диагностики "который процесс это подобрал".
func New(id string, store Store, browserDriver BrowserDriver, queueClient QueueClient, retry config.Retry, log *slog.Logger) *Worker {
	return &Worker{id: id, store: store, driver: browserDriver, queue: queueClient, retry: retry, log: log}
}

// ProcessOrder реализует десятишаговую семантику обработки одного заказа.
func (w *Worker) ProcessOrder(ctx context.Context, task queue.Task) error {
	log := w.log.With(slog.Int64("order_id", task.OrderID), slog.String("task_id", task.TaskID))

	order, err := w.store.GetOrder(ctx, task.OrderID)
	if err != nil {
		if errors.Is(err, storage.ErrNoOrder) {
			log.Warn("order not found, dropping task without retry")
			return nil
		}
		return fmt.Errorf("can't load order: %w", err)
	}

	claimed, err := w.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderPending, models.OrderQueued, models.OrderRetrying},
		models.OrderInProgress,
		storage.OrderPatch{
			WorkerID:     strPtr(w.id),
			TaskID:       strPtr(task.TaskID),
			StartedAtNow: true,
			ClearError:   true,
		},
	)
	if err != nil {
		return fmt.Errorf("can't transition order to in_progress: %w", err)
	}
	if !claimed {
		log.Warn("order already owned by another delivery, skipping")
		return nil
	}

	products, err := w.store.GetOrderProducts(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("can't load order products: %w", err)
	}
	if len(products) == 0 {
		return w.failValidation(ctx, order, log)
	}

	productValues := make([]models.OrderProduct, len(products))
	for i, p := range products {
		productValues[i] = *p
	}

	started := time.Now()
	result := w.driver.ExecuteOrder(ctx, order.ID, order.ConsultoraCode, productValues, func(p driver.Progress) {
		if err := w.queue.ReportProgress(ctx, task.TaskID, queue.ProgressMeta{
			Step:       string(p.Step),
			Message:    p.Message,
			PercentPct: p.PercentPct,
		}); err != nil {
			log.Warn("can't report progress", sl.Err(err))
		}
	})

	for _, entry := range result.StepLog {
		var details json.RawMessage
		if len(entry.Details) > 0 {
			raw, err := json.Marshal(entry.Details)
			if err != nil {
				log.Warn("can't marshal step log details", sl.Err(err))
			}
			details = raw
		}
		if err := w.store.AppendLog(ctx, &models.OrderLog{
			OrderID:        order.ID,
			Level:          entry.Level,
			Step:           entry.Step,
			Message:        entry.Message,
			Details:        details,
			ScreenshotPath: ptrOrNil(entry.ScreenshotPath),
			Timestamp:      entry.Timestamp,
		}); err != nil {
			log.Error("can't append step log", sl.Err(err))
		}
	}

	w.applyProductOutcomes(ctx, order.ID, result, log)

	duration := time.Since(started).Seconds()

	if result.Success {
		return w.finishSuccess(ctx, order, duration, log)
	}
	return w.finishFailure(ctx, order, task, result, duration, log)
}

func (w *Worker) failValidation(ctx context.Context, order *models.Order, log *slog.Logger) error {
	claimed, err := w.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderInProgress},
		models.OrderFailed,
		storage.OrderPatch{
			CurrentStep:   strPtr(string(models.StepValidation)),
			ErrorStep:     strPtr(string(models.StepValidation)),
			ErrorMessage:  strPtr("order has no product lines"),
			FinishedAtNow: true,
		},
	)
	if err != nil {
		return fmt.Errorf("can't transition empty order to failed: %w", err)
	}
	if !claimed {
		log.Warn("order moved out from under worker before validation failure could be recorded")
		return nil
	}

	if err := w.store.AppendLog(ctx, &models.OrderLog{
		OrderID: order.ID,
		Level:   models.LogError,
		Step:    string(models.StepValidation),
		Message: "order has no product lines",
	}); err != nil {
		log.Error("can't append validation log", sl.Err(err))
	}

	if err := w.store.RecomputeBatchCounters(ctx, order.BatchID); err != nil {
		log.Error("can't recompute batch counters", sl.Err(err))
	}

	return nil
}

func (w *Worker) applyProductOutcomes(ctx context.Context, orderID int64, result driver.OrderResult, log *slog.Logger) {
	for _, p := range result.ProductsAdded {
		if err := w.store.SetProductStatus(ctx, orderID, p.ProductCode, models.ProductAdded, nil); err != nil {
			log.Error("can't mark product as added", sl.Err(err), slog.String("product_code", p.ProductCode))
		}
	}
	for _, p := range result.ProductsFailed {
		msg := p.Error
		if err := w.store.SetProductStatus(ctx, orderID, p.ProductCode, models.ProductFailed, &msg); err != nil {
			log.Error("can't mark product as failed", sl.Err(err), slog.String("product_code", p.ProductCode))
		}
	}
}

func (w *Worker) finishSuccess(ctx context.Context, order *models.Order, duration float64, log *slog.Logger) error {
	claimed, err := w.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderInProgress},
		models.OrderCompleted,
		storage.OrderPatch{
			CurrentStep:     strPtr(string(models.StepCompleted)),
			DurationSeconds: &duration,
			FinishedAtNow:   true,
		},
	)
	if err != nil {
		return fmt.Errorf("can't transition order to completed: %w", err)
	}
	if !claimed {
		log.Warn("order moved out from under worker before success could be recorded")
		return nil
	}

	if err := w.store.RecomputeBatchCounters(ctx, order.BatchID); err != nil {
		log.Error("can't recompute batch counters", sl.Err(err))
	}

	return nil
}

func (w *Worker) finishFailure(ctx context.Context, order *models.Order, task queue.Task, result driver.OrderResult, duration float64, log *slog.Logger) error {
	if order.RetryCount < order.MaxRetries {
		if err := w.store.BumpRetry(ctx, order.ID); err != nil {
			return fmt.Errorf("can't bump retry count: %w", err)
		}

		claimed, err := w.store.TransitionOrder(ctx, order.ID,
			[]models.OrderStatus{models.OrderInProgress},
			models.OrderRetrying,
			storage.OrderPatch{
				CurrentStep:     strPtr(result.ErrorStep),
				ErrorStep:       strPtr(result.ErrorStep),
				ErrorMessage:    strPtr(result.Error),
				ScreenshotPath:  ptrOrNil(result.ScreenshotPath),
				DurationSeconds: &duration,
			},
		)
		if err != nil {
			return fmt.Errorf("can't transition order to retrying: %w", err)
		}
		if !claimed {
			log.Warn("order moved out from under worker before retry could be recorded")
			return nil
		}

		countdown := w.retry.BaseDelay * time.Duration(order.RetryCount+1)
		if _, err := w.queue.Retry(ctx, task, countdown); err != nil {
			log.Error("can't enqueue retry", sl.Err(err))
		}

		return nil
	}

	claimed, err := w.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderInProgress},
		models.OrderFailed,
		storage.OrderPatch{
			CurrentStep:     strPtr(result.ErrorStep),
			ErrorStep:       strPtr(result.ErrorStep),
			ErrorMessage:    strPtr(result.Error),
			ScreenshotPath:  ptrOrNil(result.ScreenshotPath),
			DurationSeconds: &duration,
			FinishedAtNow:   true,
		},
	)
	if err != nil {
		return fmt.Errorf("can't transition order to failed: %w", err)
	}
	if !claimed {
		log.Warn("order moved out from under worker before failure could be recorded")
		return fmt.Errorf("order %d failed at step %s: %s", order.ID, result.ErrorStep, result.Error)
	}

	if err := w.store.RecomputeBatchCounters(ctx, order.BatchID); err != nil {
		log.Error("can't recompute batch counters", sl.Err(err))
	}

	return fmt.Errorf("order %d failed at step %s: %s", order.ID, result.ErrorStep, result.Error)
}

// HandleUnexpectedError обрабатывает исключения за пределами драйвера
// (баги, сбои ввода-вывода): перевод в failed/unexpected_error и ровно один
// дополнительный кооперативный повтор с фиксированным countdown. Вызывается
// бинарником воркера вокруг ProcessOrder.
func (w *Worker) HandleUnexpectedError(ctx context.Context, task queue.Task, cause error) error {
	log := w.log.With(slog.Int64("order_id", task.OrderID), slog.String("task_id", task.TaskID))

	order, err := w.store.GetOrder(ctx, task.OrderID)
	if err != nil {
		return fmt.Errorf("can't load order for unexpected-error handling: %w", err)
	}

	claimed, err := w.store.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderInProgress},
		models.OrderFailed,
		storage.OrderPatch{
			CurrentStep:   strPtr(string(models.StepUnexpectedError)),
			ErrorStep:     strPtr(string(models.StepUnexpectedError)),
			ErrorMessage:  strPtr(cause.Error()),
			FinishedAtNow: true,
		},
	)
	if err != nil {
		return fmt.Errorf("can't transition order after unexpected error: %w", err)
	}
	if !claimed {
		log.Warn("order moved out from under worker before unexpected error could be recorded")
		return nil
	}

	if err := w.store.AppendLog(ctx, &models.OrderLog{
		OrderID: order.ID,
		Level:   models.LogError,
		Step:    string(models.StepUnexpectedError),
		Message: cause.Error(),
	}); err != nil {
		log.Error("can't append unexpected-error log", sl.Err(err))
	}

	if err := w.store.RecomputeBatchCounters(ctx, order.BatchID); err != nil {
		log.Error("can't recompute batch counters", sl.Err(err))
	}

	if _, err := w.queue.Retry(ctx, task, w.retry.UnexpectedErrorWait); err != nil {
		log.Error("can't enqueue unexpected-error retry", sl.Err(err))
	}

	return nil
}

func strPtr(s string) *string { return &s }

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
