package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

// CreateBatch вставляет пакет вместе со всеми его заказами и товарными
// позициями в рамках одной транзакции. total_orders выставляется равным
// len(orders) атомарно со вставкой самого пакета.
func (s *Storage) CreateBatch(ctx context.Context, name, description, sourceFile string, orders []models.NewOrderInput) (int64, error) {
	const fn = "storage.postgres.CreateBatch"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: can't start transaction: %v", fn, err)
	}
	defer tx.Rollback() //nolint:errcheck

	query, args, err := s.sq.Insert("batches").
		Columns("name", "description", "status", "total_orders", "source_file").
		Values(name, description, models.BatchPending, len(orders), sourceFile).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: build insert batch: %v", fn, err)
	}

	var batchID int64
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&batchID); err != nil {
		return 0, fmt.Errorf("%s: insert batch: %v", fn, err)
	}

	for _, o := range orders {
		orderQuery, orderArgs, err := s.sq.Insert("orders").
			Columns("batch_id", "consultora_code", "consultora_name", "status", "current_step", "max_retries").
			Values(batchID, o.ConsultoraCode, o.ConsultoraName, models.OrderPending, string(models.StepStarting), models.DefaultMaxRetries).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("%s: build insert order: %v", fn, err)
		}

		var orderID int64
		if err := tx.QueryRowxContext(ctx, orderQuery, orderArgs...).Scan(&orderID); err != nil {
			return 0, fmt.Errorf("%s: insert order: %v", fn, err)
		}

		if len(o.Products) == 0 {
			continue
		}

		insertProducts := s.sq.Insert("order_products").
			Columns("order_id", "product_code", "quantity", "status")
		for _, p := range o.Products {
			qty := p.Quantity
			if qty < 1 {
				qty = 1
			}
			insertProducts = insertProducts.Values(orderID, p.ProductCode, qty, models.ProductPending)
		}
		productQuery, productArgs, err := insertProducts.ToSql()
		if err != nil {
			return 0, fmt.Errorf("%s: build insert products: %v", fn, err)
		}
		if _, err := tx.ExecContext(ctx, productQuery, productArgs...); err != nil {
			return 0, fmt.Errorf("%s: insert products: %v", fn, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %v", fn, err)
	}

	return batchID, nil
}

// GetBatch извлекает один пакет по его id.
func (s *Storage) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	const fn = "storage.postgres.GetBatch"

	query, args, err := s.sq.Select(
		"id", "name", "description", "status", "total_orders", "completed_orders",
		"failed_orders", "source_file", "created_at", "updated_at", "started_at", "finished_at",
	).From("batches").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %v", fn, err)
	}

	var b models.Batch
	if err := s.db.GetContext(ctx, &b, query, args...); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNoBatch
		}
		return nil, fmt.Errorf("%s: %v", fn, err)
	}

	return &b, nil
}

// ListBatches возвращает все пакеты, упорядоченные от самого свежего.
func (s *Storage) ListBatches(ctx context.Context) ([]*models.Batch, error) {
	const fn = "storage.postgres.ListBatches"

	query, args, err := s.sq.Select(
		"id", "name", "description", "status", "total_orders", "completed_orders",
		"failed_orders", "source_file", "created_at", "updated_at", "started_at", "finished_at",
	).From("batches").OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %v", fn, err)
	}

	var batches []*models.Batch
	if err := s.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %v", fn, err)
	}

	return batches, nil
}

// TransitionBatch — conditional-update аналог TransitionOrder на уровне
// пакета: используется Orchestrator'ом для start/pause/cancel.
func (s *Storage) TransitionBatch(ctx context.Context, batchID int64, from []models.BatchStatus, to models.BatchStatus, startedAtNow, finishedAtNow bool) (bool, error) {
	const fn = "storage.postgres.TransitionBatch"

	builder := s.sq.Update("batches").Set("status", to).Set("updated_at", squirrel.Expr("now()"))
	if startedAtNow {
		builder = builder.Set("started_at", squirrel.Expr("coalesce(started_at, now())"))
	}
	if finishedAtNow {
		builder = builder.Set("finished_at", time.Now().UTC())
	}

	fromVals := make([]string, len(from))
	for i, f := range from {
		fromVals[i] = string(f)
	}

	query, args, err := builder.
		Where(squirrel.Eq{"id": batchID, "status": fromVals}).
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

// RecomputeBatchCounters пересчитывает completed_orders/failed_orders по
// текущему состоянию детей и, если все дети терминальны, финализирует
// status/finished_at. Сериализуется построчной блокировкой пакета
// (SELECT ... FOR UPDATE), чтобы конкурентно завершающиеся заказы одного
// пакета не теряли обновления.
func (s *Storage) RecomputeBatchCounters(ctx context.Context, batchID int64) error {
	const fn = "storage.postgres.RecomputeBatchCounters"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %v", fn, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current struct {
		Total  int                `db:"total_orders"`
		Status models.BatchStatus `db:"status"`
	}
	if err := tx.GetContext(ctx, &current, `SELECT total_orders, status FROM batches WHERE id = $1 FOR UPDATE`, batchID); err != nil {
		if isNoRows(err) {
			return storage.ErrNoBatch
		}
		return fmt.Errorf("%s: lock batch: %v", fn, err)
	}
	total := current.Total

	// Пакет уже финализирован Orchestrator'ом (cancel) или предыдущим
	// вызовом этой же функции — авто-финализация не должна перезаписывать
	// уже выставленный терминальный статус счетчиками, посчитанными по
	// детям, не знающим о причине финализации.
	if current.Status.Terminal() {
		return tx.Commit()
	}

	counts := map[models.OrderStatus]int{}
	rows, err := tx.QueryxContext(ctx, `SELECT status, count(*) FROM orders WHERE batch_id = $1 GROUP BY status`, batchID)
	if err != nil {
		return fmt.Errorf("%s: count orders: %v", fn, err)
	}
	for rows.Next() {
		var status models.OrderStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return fmt.Errorf("%s: scan count: %v", fn, err)
		}
		counts[status] = count
	}
	rows.Close()

	completed := counts[models.OrderCompleted]
	failed := counts[models.OrderFailed]
	cancelled := counts[models.OrderCancelled]
	done := completed + failed + cancelled

	newStatus := ""
	finishNow := false
	if total == 0 || done == total {
		finishNow = true
		switch {
		case total == 0 || (failed == 0 && cancelled == 0):
			newStatus = string(models.BatchCompleted)
		default:
			newStatus = string(models.BatchFailed)
		}
	}

	updateBuilder := s.sq.Update("batches").
		Set("completed_orders", completed).
		Set("failed_orders", failed).
		Set("updated_at", squirrel.Expr("now()"))
	if newStatus != "" {
		updateBuilder = updateBuilder.Set("status", newStatus)
	}
	if finishNow {
		updateBuilder = updateBuilder.Set("finished_at", squirrel.Expr("coalesce(finished_at, now())"))
	}

	query, args, err := updateBuilder.
		Where(squirrel.Eq{"id": batchID}).
		Where(squirrel.NotEq{"status": []string{
			string(models.BatchCompleted), string(models.BatchFailed), string(models.BatchCancelled),
		}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build update: %v", fn, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: update batch: %v", fn, err)
	}

	return tx.Commit()
}

// BatchStats возвращает разбивку по статусам, процент выполнения и ETA.
func (s *Storage) BatchStats(ctx context.Context, batchID int64) (*models.BatchStats, error) {
	const fn = "storage.postgres.BatchStats"

	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	rows, err := s.db.QueryxContext(ctx, `SELECT status, count(*) FROM orders WHERE batch_id = $1 GROUP BY status`, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: count orders: %v", fn, err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: scan: %v", fn, err)
		}
		counts[status] = count
	}
	rows.Close()

	total := batch.TotalOrders
	if total == 0 {
		total = 1
	}
	done := counts[string(models.OrderCompleted)] + counts[string(models.OrderFailed)]

	var avgDuration *float64
	if err := s.db.GetContext(ctx, &avgDuration,
		`SELECT avg(duration_seconds) FROM orders WHERE batch_id = $1 AND duration_seconds IS NOT NULL`, batchID,
	); err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("%s: avg duration: %v", fn, err)
	}

	remaining := batch.TotalOrders - done
	var eta *float64
	if avgDuration != nil && remaining > 0 {
		v := *avgDuration * float64(remaining)
		eta = &v
	}

	return &models.BatchStats{
		BatchID:     batchID,
		Total:       batch.TotalOrders,
		Pending:     counts[string(models.OrderPending)],
		Queued:      counts[string(models.OrderQueued)],
		InProgress:  counts[string(models.OrderInProgress)],
		Completed:   counts[string(models.OrderCompleted)],
		Failed:      counts[string(models.OrderFailed)],
		Retrying:    counts[string(models.OrderRetrying)],
		Cancelled:   counts[string(models.OrderCancelled)],
		ProgressPct: round1(float64(done) / float64(total) * 100),
		ETASeconds:  eta,
	}, nil
}

// SystemStats возвращает общесистемную сводку по всем пакетам и заказам.
func (s *Storage) SystemStats(ctx context.Context) (*models.SystemStats, error) {
	const fn = "storage.postgres.SystemStats"

	stats := &models.SystemStats{}

	if err := s.db.GetContext(ctx, &stats.TotalBatches, `SELECT count(*) FROM batches`); err != nil {
		return nil, fmt.Errorf("%s: total batches: %v", fn, err)
	}
	if err := s.db.GetContext(ctx, &stats.ActiveBatches, `SELECT count(*) FROM batches WHERE status = $1`, models.BatchRunning); err != nil {
		return nil, fmt.Errorf("%s: active batches: %v", fn, err)
	}

	counts := map[string]int{}
	rows, err := s.db.QueryxContext(ctx, `SELECT status, count(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%s: order counts: %v", fn, err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: scan: %v", fn, err)
		}
		counts[status] = count
	}
	rows.Close()

	stats.TotalOrdersPending = counts[string(models.OrderPending)] + counts[string(models.OrderQueued)]
	stats.TotalOrdersInProgress = counts[string(models.OrderInProgress)]
	stats.TotalOrdersCompleted = counts[string(models.OrderCompleted)]
	stats.TotalOrdersFailed = counts[string(models.OrderFailed)]

	return stats, nil
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
