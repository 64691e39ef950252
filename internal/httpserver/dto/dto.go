// Package dto описывает тела запросов и ответов Control API,
// разделенные с models, чтобы изменения во внутренней схеме хранилища
// не протекали напрямую в контракт HTTP-уровня.
package dto

import (
	"time"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

// CreateBatchRequest — тело POST /batches.
type CreateBatchRequest struct {
	Name        string       `json:"name" validate:"required"`
	Description string       `json:"description"`
	Orders      []OrderInput `json:"orders" validate:"required,min=1,dive"`
}

// OrderInput — один заказ внутри CreateBatchRequest.
type OrderInput struct {
	ConsultoraCode string         `json:"consultora_code" validate:"required"`
	ConsultoraName string         `json:"consultora_name"`
	Products       []ProductInput `json:"products" validate:"required,min=1,dive"`
}

// ProductInput — одна товарная позиция внутри OrderInput.
type ProductInput struct {
	ProductCode string `json:"product_code" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,min=1"`
}

// UploadBatchForm — поля multipart-формы POST /batches/upload помимо
// самого файла.
type UploadBatchForm struct {
	Name        string `validate:"required"`
	Description string
}

// BatchSummary — ответ на создание/чтение одного пакета.
type BatchSummary struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	TotalOrders     int        `json:"total_orders"`
	CompletedOrders int        `json:"completed_orders"`
	FailedOrders    int        `json:"failed_orders"`
	SourceFile      string     `json:"source_file"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// BatchSummaryFrom конвертирует models.Batch в BatchSummary.
func BatchSummaryFrom(b *models.Batch) BatchSummary {
	return BatchSummary{
		ID:              b.ID,
		Name:            b.Name,
		Description:     b.Description,
		Status:          string(b.Status),
		TotalOrders:     b.TotalOrders,
		CompletedOrders: b.CompletedOrders,
		FailedOrders:    b.FailedOrders,
		SourceFile:      b.SourceFile,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		StartedAt:       b.StartedAt,
		FinishedAt:      b.FinishedAt,
	}
}

// OrderSummary — ответ на чтение одного заказа.
type OrderSummary struct {
	ID              int64      `json:"id"`
	BatchID         int64      `json:"batch_id"`
	ConsultoraCode  string     `json:"consultora_code"`
	ConsultoraName  string     `json:"consultora_name"`
	Status          string     `json:"status"`
	CurrentStep     string     `json:"current_step"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	WorkerID        *string    `json:"worker_id,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	ErrorStep       *string    `json:"error_step,omitempty"`
	ScreenshotPath  *string    `json:"screenshot_path,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// OrderSummaryFrom конвертирует models.Order в OrderSummary.
func OrderSummaryFrom(o *models.Order) OrderSummary {
	return OrderSummary{
		ID:              o.ID,
		BatchID:         o.BatchID,
		ConsultoraCode:  o.ConsultoraCode,
		ConsultoraName:  o.ConsultoraName,
		Status:          string(o.Status),
		CurrentStep:     o.CurrentStep,
		RetryCount:      o.RetryCount,
		MaxRetries:      o.MaxRetries,
		WorkerID:        o.WorkerID,
		ErrorMessage:    o.ErrorMessage,
		ErrorStep:       o.ErrorStep,
		ScreenshotPath:  o.ScreenshotPath,
		DurationSeconds: o.DurationSeconds,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		StartedAt:       o.StartedAt,
		FinishedAt:      o.FinishedAt,
	}
}

// OrderLogEntry — одна запись в ответе GET /orders/{id}/logs.
type OrderLogEntry struct {
	Level          string    `json:"level"`
	Step           string    `json:"step"`
	Message        string    `json:"message"`
	ScreenshotPath *string   `json:"screenshot_path,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// OrderLogEntryFrom конвертирует models.OrderLog в OrderLogEntry.
func OrderLogEntryFrom(l *models.OrderLog) OrderLogEntry {
	return OrderLogEntry{
		Level:          string(l.Level),
		Step:           l.Step,
		Message:        l.Message,
		ScreenshotPath: l.ScreenshotPath,
		Timestamp:      l.Timestamp,
	}
}
