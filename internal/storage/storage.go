// Package storage определяет интерфейс хранилища (C1) и доменные ошибки,
// общие для всех реализаций. Конкретная реализация на PostgreSQL лежит
// в internal/storage/postgres; остальные компоненты (worker, dispatch,
// orchestrator, httpserver) зависят только от интерфейса Store, что
// позволяет подменять его in-memory фейком в тестах.
package storage

import (
	"context"
	"errors"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

var (
	ErrNoBatch            = errors.New("no batch found")
	ErrNoOrder            = errors.New("no order found")
	ErrEmptyOrder         = errors.New("no items in order")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidStatusValue = errors.New("invalid status value")
)

// OrderPatch описывает поля, которые TransitionOrder применяет атомарно
// вместе со сменой статуса. Нулевые указатели означают "не менять".
type OrderPatch struct {
	CurrentStep     *string
	WorkerID        *string
	TaskID          *string
	ErrorMessage    *string
	ErrorStep       *string
	ScreenshotPath  *string
	DurationSeconds *float64
	StartedAtNow    bool
	FinishedAtNow   bool
	ClearError      bool
}

// Store — основной контракт хранилища (C1). Любая реализация обязана
// сериализовать пересчет счетчиков пакета и переходы статуса заказа на
// уровне одной строки (batch/order), чтобы конкурентно завершающиеся
// заказы одного пакета не теряли обновления.
type Store interface {
	CreateBatch(ctx context.Context, name, description, sourceFile string, orders []models.NewOrderInput) (int64, error)
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	ListBatches(ctx context.Context) ([]*models.Batch, error)

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error)
	GetOrderProducts(ctx context.Context, orderID int64) ([]*models.OrderProduct, error)

	// TransitionOrder — единственная точка линеаризации для смены
	// статуса заказа: применяет patch и переводит заказ в to, но только
	// если текущий статус входит в from. Возвращает false, если
	// предусловие не выполнилось (заказ уже был подобран другим воркером).
	TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch OrderPatch) (bool, error)
	BumpRetry(ctx context.Context, orderID int64) error
	SetProductStatus(ctx context.Context, orderID int64, productCode string, status models.ProductStatus, errMsg *string) error

	AppendLog(ctx context.Context, entry *models.OrderLog) error
	GetOrderLogs(ctx context.Context, orderID int64) ([]*models.OrderLog, error)

	// RecomputeBatchCounters пересчитывает completed_orders/failed_orders
	// и, если все дети терминальны, финализирует status/finished_at.
	// Идемпотентна: повторный вызов без изменений в детях не меняет batch.
	RecomputeBatchCounters(ctx context.Context, batchID int64) error
	TransitionBatch(ctx context.Context, batchID int64, from []models.BatchStatus, to models.BatchStatus, startedAtNow, finishedAtNow bool) (bool, error)
	BatchStats(ctx context.Context, batchID int64) (*models.BatchStats, error)
	SystemStats(ctx context.Context) (*models.SystemStats, error)
}
