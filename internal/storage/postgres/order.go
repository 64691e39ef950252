package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

// GetOrder извлекает один заказ по id.
func (s *Storage) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	const fn = "storage.postgres.GetOrder"

	query, args, err := s.sq.Select(
		"id", "batch_id", "consultora_code", "consultora_name", "status", "current_step",
		"retry_count", "max_retries", "task_id", "worker_id", "error_message", "error_step",
		"screenshot_path", "duration_seconds", "metadata", "created_at", "updated_at",
		"started_at", "finished_at",
	).From("orders").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %v", fn, err)
	}

	var o models.Order
	if err := s.db.GetContext(ctx, &o, query, args...); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNoOrder
		}
		return nil, fmt.Errorf("%s: %v", fn, err)
	}

	return &o, nil
}

// GetBatchOrders извлекает заказы пакета, опционально отфильтрованные по статусу.
func (s *Storage) GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error) {
	const fn = "storage.postgres.GetBatchOrders"

	builder := s.sq.Select(
		"id", "batch_id", "consultora_code", "consultora_name", "status", "current_step",
		"retry_count", "max_retries", "task_id", "worker_id", "error_message", "error_step",
		"screenshot_path", "duration_seconds", "metadata", "created_at", "updated_at",
		"started_at", "finished_at",
	).From("orders").Where(squirrel.Eq{"batch_id": batchID}).OrderBy("id ASC")

	if statusFilter != nil {
		builder = builder.Where(squirrel.Eq{"status": *statusFilter})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %v", fn, err)
	}

	var orders []*models.Order
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %v", fn, err)
	}

	return orders, nil
}

// GetOrderProducts извлекает товарные позиции заказа.
func (s *Storage) GetOrderProducts(ctx context.Context, orderID int64) ([]*models.OrderProduct, error) {
	const fn = "storage.postgres.GetOrderProducts"

	query, args, err := s.sq.Select(
		"id", "order_id", "product_code", "quantity", "status", "error_message", "added_at",
	).From("order_products").Where(squirrel.Eq{"order_id": orderID}).OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %v", fn, err)
	}

	var products []*models.OrderProduct
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %v", fn, err)
	}

	return products, nil
}

// TransitionOrder — единственная точка линеаризации смены статуса заказа:
// условный `UPDATE ... WHERE id = $1 AND status IN (...)` вместо unit-of-work
// ORM. Возвращает false без ошибки, если предусловие не выполнилось — это
// штатный случай редоставки задачи, уже подобранной другим воркером.
func (s *Storage) TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch storage.OrderPatch) (bool, error) {
	const fn = "storage.postgres.TransitionOrder"

	builder := s.sq.Update("orders").
		Set("status", to).
		Set("updated_at", squirrel.Expr("now()"))

	if patch.CurrentStep != nil {
		builder = builder.Set("current_step", *patch.CurrentStep)
	}
	if patch.WorkerID != nil {
		builder = builder.Set("worker_id", *patch.WorkerID)
	}
	if patch.TaskID != nil {
		builder = builder.Set("task_id", *patch.TaskID)
	}
	if patch.ClearError {
		builder = builder.Set("error_message", nil).Set("error_step", nil)
	}
	if patch.ErrorMessage != nil {
		builder = builder.Set("error_message", *patch.ErrorMessage)
	}
	if patch.ErrorStep != nil {
		builder = builder.Set("error_step", *patch.ErrorStep)
	}
	if patch.ScreenshotPath != nil {
		builder = builder.Set("screenshot_path", *patch.ScreenshotPath)
	}
	if patch.DurationSeconds != nil {
		builder = builder.Set("duration_seconds", *patch.DurationSeconds)
	}
	if patch.StartedAtNow {
		builder = builder.Set("started_at", squirrel.Expr("now()"))
	}
	if patch.FinishedAtNow {
		builder = builder.Set("finished_at", squirrel.Expr("now()"))
	}

	fromVals := make([]string, len(from))
	for i, f := range from {
		fromVals[i] = string(f)
	}

	query, args, err := builder.
		Where(squirrel.Eq{"id": orderID, "status": fromVals}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: build query: %v", fn, err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: exec: %v", fn, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %v", fn, err)
	}

	return n == 1, nil
}

// BumpRetry увеличивает retry_count и сбрасывает сообщения об ошибке.
func (s *Storage) BumpRetry(ctx context.Context, orderID int64) error {
	const fn = "storage.postgres.BumpRetry"

	query, args, err := s.sq.Update("orders").
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Set("error_message", nil).
		Set("error_step", nil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": orderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %v", fn, err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: exec: %v", fn, err)
	}

	return nil
}

// SetProductStatus обновляет статус одной товарной позиции по коду товара
// внутри заказа. Вызывается воркером после получения OrderResult от драйвера.
func (s *Storage) SetProductStatus(ctx context.Context, orderID int64, productCode string, status models.ProductStatus, errMsg *string) error {
	const fn = "storage.postgres.SetProductStatus"

	builder := s.sq.Update("order_products").Set("status", status)
	if status == models.ProductAdded {
		builder = builder.Set("added_at", squirrel.Expr("now()"))
	}
	if errMsg != nil {
		builder = builder.Set("error_message", *errMsg)
	}

	query, args, err := builder.
		Where(squirrel.Eq{"order_id": orderID, "product_code": productCode}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %v", fn, err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: exec: %v", fn, err)
	}

	return nil
}
