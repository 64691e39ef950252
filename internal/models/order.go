package models

import (
	"encoding/json"
	"time"
)

// Order — единица работы одного воркера: одна консультора и список ее
// товарных позиций внутри пакета. Order — это единственный владелец
// своих OrderProduct и OrderLog записей.
type Order struct {
	ID              int64           `json:"id" db:"id"`
	BatchID         int64           `json:"batch_id" db:"batch_id"`
	ConsultoraCode  string          `json:"consultora_code" db:"consultora_code"`
	ConsultoraName  string          `json:"consultora_name" db:"consultora_name"`
	Status          OrderStatus     `json:"status" db:"status"`
	CurrentStep     string          `json:"current_step" db:"current_step"`
	RetryCount      int             `json:"retry_count" db:"retry_count"`
	MaxRetries      int             `json:"max_retries" db:"max_retries"`
	TaskID          *string         `json:"task_id,omitempty" db:"task_id"`
	WorkerID        *string         `json:"worker_id,omitempty" db:"worker_id"`
	ErrorMessage    *string         `json:"error_message,omitempty" db:"error_message"`
	ErrorStep       *string         `json:"error_step,omitempty" db:"error_step"`
	ScreenshotPath  *string         `json:"screenshot_path,omitempty" db:"screenshot_path"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty" db:"duration_seconds"`
	// Metadata почти всегда пуста; поле существует, чтобы данные,
	// не нашедшие постоянного места в схеме (например, номер строки
	// исходного файла), не требовали миграции при каждом расширении.
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// DefaultMaxRetries — число автоматических попыток по умолчанию для
// нового заказа, до того как worker сдается и переводит его в failed.
const DefaultMaxRetries = 3

// ManualRetryCeilingBonus — запас сверх MaxRetries, который проверяет только
// фильтр Orchestrator.RetryBatchFailures: заказ берется в повтор, пока
// retry_count < max_retries + ManualRetryCeilingBonus. RetrySingleOrder этот
// потолок не проверяет. Ручные повторы сами retry_count не увеличивают (его
// увеличивает только автоматический повтор воркера через BumpRetry), поэтому
// заказ, исчерпавший автоматические повторы, проходит фильтр при каждом
// вызове RetryBatchFailures.
const ManualRetryCeilingBonus = 2

// OrderProduct — одна товарная позиция внутри заказа.
type OrderProduct struct {
	ID           int64         `json:"id" db:"id"`
	OrderID      int64         `json:"order_id" db:"order_id"`
	ProductCode  string        `json:"product_code" db:"product_code"`
	Quantity     int           `json:"quantity" db:"quantity"`
	Status       ProductStatus `json:"status" db:"status"`
	ErrorMessage *string       `json:"error_message,omitempty" db:"error_message"`
	AddedAt      *time.Time    `json:"added_at,omitempty" db:"added_at"`
}

// OrderLog — одна запись в неизменяемом журнале шагов заказа (audit trail).
// Строки никогда не обновляются и не удаляются.
type OrderLog struct {
	ID             int64           `json:"id" db:"id"`
	OrderID        int64           `json:"order_id" db:"order_id"`
	Level          LogLevel        `json:"level" db:"level"`
	Step           string          `json:"step" db:"step"`
	Message        string          `json:"message" db:"message"`
	Details        json.RawMessage `json:"details,omitempty" db:"details"`
	ScreenshotPath *string         `json:"screenshot_path,omitempty" db:"screenshot_path"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// NewOrderInput описывает один заказ при создании пакета — перед тем как
// ему присвоили id; используется loader'ом и HTTP-хендлером создания пакета.
type NewOrderInput struct {
	ConsultoraCode string
	ConsultoraName string
	Products       []NewProductInput
}

// NewProductInput — одна товарная строка при создании заказа.
type NewProductInput struct {
	ProductCode string
	Quantity    int
}
