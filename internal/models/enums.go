// Package models определяет доменные структуры данных платформы:
// пакеты заказов (Batch), сами заказы (Order), их товарные позиции
// (OrderProduct) и журнал шагов (OrderLog). Структуры используются
// одинаково и при сохранении в PostgreSQL, и при сериализации в JSON
// для HTTP API, и при передаче между компонентами через очередь.
package models

// BatchStatus описывает жизненный цикл пакета заказов.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchPaused    BatchStatus = "paused"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// Terminal сообщает, является ли статус пакета финальным.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchCancelled:
		return true
	default:
		return false
	}
}

// OrderStatus описывает состояние одного заказа. Набор статусов
// соответствует каноническому перечню платформы; более тонкая детализация
// прогресса (например, "login_ok" или "cart_open") не расширяет этот enum,
// а хранится отдельно в Order.CurrentStep — см. models.StepTag.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderQueued     OrderStatus = "queued"
	OrderInProgress OrderStatus = "in_progress"
	OrderRetrying   OrderStatus = "retrying"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Terminal сообщает, является ли статус заказа финальным. Единственный
// путь из терминального состояния — ручной retry из failed/cancelled,
// который выполняет Orchestrator, а не сам worker.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderFailed, OrderCancelled:
		return true
	default:
		return false
	}
}

// ProductStatus описывает судьбу одной товарной позиции внутри заказа.
type ProductStatus string

const (
	ProductPending  ProductStatus = "pending"
	ProductAdded    ProductStatus = "added"
	ProductFailed   ProductStatus = "failed"
	ProductNotFound ProductStatus = "not_found"
)

// LogLevel — уровень записи в журнале шагов заказа.
type LogLevel string

const (
	LogDebug   LogLevel = "DEBUG"
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// StepTag — именованный шаг пайплайна браузерного драйвера. Используется
// и как значение Order.CurrentStep, и как ключ прогресса (см. driver.Progress),
// и как поле OrderLog.Step. Отдельные теги (LoginOK, CartOpen, ...) сохраняют
// детализацию, присутствовавшую в исходной системе, не расширяя при этом
// набор допустимых значений OrderStatus.
type StepTag string

const (
	StepStarting                  StepTag = "starting"
	StepPreflight                 StepTag = "preflight"
	StepLogin                     StepTag = "login"
	StepLoginOK                   StepTag = "login_ok"
	StepImpersonation             StepTag = "impersonation"
	StepConsultoraSelected        StepTag = "consultora_selected"
	StepSearch                    StepTag = "search_consultora"
	StepConfirm                   StepTag = "confirm_consultora"
	StepCycleSelection            StepTag = "select_cycle"
	StepCycleSelected             StepTag = "cycle_selected"
	StepExcelGeneration           StepTag = "excel_generation"
	StepFileGeneration            StepTag = "file_generation"
	StepNavigateToCartAdaptively  StepTag = "navigate_to_cart_adaptively"
	StepCartOpen                  StepTag = "cart_open"
	StepCartCleanup               StepTag = "cart_cleanup"
	StepUploadOrderFile           StepTag = "upload_order_file"
	StepProductsAdded             StepTag = "products_added"
	StepUploadValidation          StepTag = "upload_validation"
	StepCompleted                 StepTag = "completed"
	StepValidation                StepTag = "validation"
	StepUnexpectedError           StepTag = "unexpected_error"
)
