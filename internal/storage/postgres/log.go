package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

// AppendLog добавляет одну неизменяемую запись в журнал шагов заказа.
// Строки OrderLog никогда не обновляются и не удаляются — только вставка.
func (s *Storage) AppendLog(ctx context.Context, entry *models.OrderLog) error {
	const fn = "storage.postgres.AppendLog"

	query, args, err := s.sq.Insert("order_logs").
		Columns("order_id", "level", "step", "message", "details", "screenshot_path").
		Values(entry.OrderID, entry.Level, entry.Step, entry.Message, entry.Details, entry.ScreenshotPath).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %v", fn, err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: exec: %v", fn, err)
	}

	return nil
}

// GetOrderLogs извлекает журнал заказа в хронологическом порядке.
func (s *Storage) GetOrderLogs(ctx context.Context, orderID int64) ([]*models.OrderLog, error) {
	const fn = "storage.postgres.GetOrderLogs"

	query, args, err := s.sq.Select(
		"id", "order_id", "level", "step", "message", "details", "screenshot_path", "timestamp",
	).From("order_logs").Where(squirrel.Eq{"order_id": orderID}).OrderBy("timestamp ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %v", fn, err)
	}

	var logs []*models.OrderLog
	if err := s.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %v", fn, err)
	}

	return logs, nil
}
