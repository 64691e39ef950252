// Package queue определяет контракт durable-очереди (C2): именованные
// дорожки (orders/batches/default) с постановкой задач, кооперативным
// retry и best-effort отзывом. Конкретная реализация на Kafka+Redis лежит
// в internal/queue/kafka.
package queue

import (
	"context"
	"time"
)

// Lane — именованная дорожка очереди.
type Lane string

const (
	LaneOrders  Lane = "orders"
	LaneBatches Lane = "batches"
	LaneDefault Lane = "default"
)

// TaskName идентифицирует обработчик, которому адресована задача.
type TaskName string

const (
	TaskProcessOrder      TaskName = "process_order"
	TaskProcessBatch      TaskName = "process_batch"
	TaskRetryBatchFailure TaskName = "retry_failed_orders"
)

// TaskOptions описывает политику исполнения одной задачи при постановке.
type TaskOptions struct {
	MaxRetries          int
	DefaultRetryDelay   time.Duration
	AckLate             bool
	RejectOnWorkerLost  bool
	SoftTimeLimit       time.Duration
	HardTimeLimit       time.Duration
}

// Task — то, что реально передается по проводу и достается консьюмером.
type Task struct {
	TaskID     string    `json:"task_id"`
	Lane       Lane      `json:"lane"`
	Name       TaskName  `json:"name"`
	OrderID    int64     `json:"order_id,omitempty"`
	BatchID    int64     `json:"batch_id,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ProgressMeta — содержимое прогресс-колбэка, отдаваемое operator dashboard'у.
// Она не участвует в корректности обработки — только в наблюдаемости.
type ProgressMeta struct {
	Step       string `json:"step"`
	Message    string `json:"message"`
	PercentPct int    `json:"percent_pct"`
}

// Handler обрабатывает одну задачу дорожки. При возврате ошибки смещение
// этого сообщения не отмечается, но отметка любого следующего сообщения той
// же партиции коммитит смещение и за ним, так что сообщение доставляется
// заново, только если сессия консьюмера закончится раньше такой отметки.
type Handler func(ctx context.Context, task Task) error

// Queue — контракт очереди, потребляемый ядром системы.
type Queue interface {
	// Enqueue ставит задачу в указанную дорожку и возвращает непрозрачный
	// task_id, которым впоследствии можно Revoke или сослаться в отчетах.
	Enqueue(ctx context.Context, lane Lane, name TaskName, orderID, batchID int64, opts TaskOptions) (taskID string, err error)

	// Revoke — best-effort отмена: предотвращает подбор еще не
	// стартовавшей задачи. terminate записывается вместе с флагом, но
	// уже выполняющаяся задача им не прерывается (см. IsRevoked).
	Revoke(ctx context.Context, taskID string, terminate bool) error

	// IsRevoked проверяется консьюмером (Consume) только перед стартом
	// обработки задачи; во время выполнения флаг не проверяется.
	IsRevoked(ctx context.Context, taskID string) (bool, error)

	// ReportProgress публикует прогресс для operator dashboard'ов.
	ReportProgress(ctx context.Context, taskID string, meta ProgressMeta) error

	// Retry кооперативно переставляет задачу в ту же дорожку через
	// countdown, с тем же task_id сохраненным в истории попыток.
	Retry(ctx context.Context, task Task, countdown time.Duration) (taskID string, err error)

	// Consume запускает блокирующий цикл чтения дорожки lane; handler
	// вызывается синхронно для каждой задачи (prefetch=1 — ровно одна
	// задача занимает слот исполнения одновременно), коммит смещения
	// происходит только после успешного возврата handler.
	Consume(ctx context.Context, lane Lane, handler Handler) error

	Close() error
}
