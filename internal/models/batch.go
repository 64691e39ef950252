package models

import "time"

// Batch представляет один загруженный прогон: набор заказов, которые
// были подняты из одного файла или одного структурированного запроса,
// и управляются/отслеживаются как единое целое.
type Batch struct {
	ID              int64       `json:"id" db:"id"`
	Name            string      `json:"name" db:"name"`
	Description     string      `json:"description" db:"description"`
	Status          BatchStatus `json:"status" db:"status"`
	TotalOrders     int         `json:"total_orders" db:"total_orders"`
	CompletedOrders int         `json:"completed_orders" db:"completed_orders"`
	FailedOrders    int         `json:"failed_orders" db:"failed_orders"`
	SourceFile      string      `json:"source_file" db:"source_file"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty" db:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
}

// BatchStats — агрегированная статистика по пакету, отдаваемая operator
// dashboard'у: разбивка по статусам заказов, процент выполнения и ETA.
type BatchStats struct {
	BatchID     int64          `json:"batch_id"`
	Total       int            `json:"total"`
	Pending     int            `json:"pending"`
	Queued      int            `json:"queued"`
	InProgress  int            `json:"in_progress"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Retrying    int            `json:"retrying"`
	Cancelled   int            `json:"cancelled"`
	ProgressPct float64        `json:"progress_pct"`
	ETASeconds  *float64       `json:"eta_seconds,omitempty"`
	StatusCount map[string]int `json:"-"`
}

// SystemStats — общесистемная сводка для /stats.
type SystemStats struct {
	ActiveWorkers          int `json:"active_workers"`
	TotalBatches           int `json:"total_batches"`
	ActiveBatches          int `json:"active_batches"`
	TotalOrdersPending     int `json:"total_orders_pending"`
	TotalOrdersInProgress  int `json:"total_orders_in_progress"`
	TotalOrdersCompleted   int `json:"total_orders_completed"`
	TotalOrdersFailed      int `json:"total_orders_failed"`
}
