package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := &Storage{
		db:  sqlx.NewDb(db, "sqlmock"),
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	return s, mock
}

func TestGetBatch_Found(t *testing.T) {
	s, mock := newMockStorage(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "name", "description", "status", "total_orders", "completed_orders",
		"failed_orders", "source_file", "created_at", "updated_at", "started_at", "finished_at",
	}).AddRow(1, "batch-1", "desc", models.BatchRunning, 10, 3, 1, "orders.csv", now, now, nil, nil)

	mock.ExpectQuery(`SELECT .* FROM batches WHERE id = \$1`).WithArgs(int64(1)).WillReturnRows(rows)

	b, err := s.GetBatch(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if b.Status != models.BatchRunning || b.TotalOrders != 10 {
		t.Fatalf("unexpected batch: %+v", b)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT .* FROM batches WHERE id = \$1`).WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	_, err := s.GetBatch(context.Background(), 99)
	if !errors.Is(err, storage.ErrNoBatch) {
		t.Fatalf("GetBatch() error = %v, want storage.ErrNoBatch", err)
	}
}

func TestTransitionBatch_SucceedsWhenRowAffected(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(`UPDATE batches SET`).
		WithArgs(string(models.BatchRunning), int64(5), string(models.BatchPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.TransitionBatch(context.Background(), 5, []models.BatchStatus{models.BatchPending}, models.BatchRunning, true, false)
	if err != nil {
		t.Fatalf("TransitionBatch() error = %v", err)
	}
	if !ok {
		t.Fatal("TransitionBatch() = false, want true when one row matched")
	}
}

func TestTransitionBatch_FalseWhenNoRowMatches(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(`UPDATE batches SET`).
		WithArgs(string(models.BatchRunning), int64(5), string(models.BatchPaused)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.TransitionBatch(context.Background(), 5, []models.BatchStatus{models.BatchPaused}, models.BatchRunning, false, false)
	if err != nil {
		t.Fatalf("TransitionBatch() error = %v", err)
	}
	if ok {
		t.Fatal("TransitionBatch() = true, want false when the row was already in another state")
	}
}

// A batch already finalized (by Orchestrator cancel, or an earlier call to this
// same function) must not be reopened by counters computed from children that
// don't know why the batch was finalized: the locked read short-circuits
// straight to commit, never reaching the count/update queries.
func TestRecomputeBatchCounters_SkipsWhenAlreadyTerminal(t *testing.T) {
	s, mock := newMockStorage(t)

	lockRows := sqlmock.NewRows([]string{"total_orders", "status"}).AddRow(3, models.BatchCancelled)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT total_orders, status FROM batches WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(lockRows)
	mock.ExpectCommit()

	if err := s.RecomputeBatchCounters(context.Background(), 7); err != nil {
		t.Fatalf("RecomputeBatchCounters() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecomputeBatchCounters_FinalizesWhenAllOrdersTerminal(t *testing.T) {
	s, mock := newMockStorage(t)

	lockRows := sqlmock.NewRows([]string{"total_orders", "status"}).AddRow(2, models.BatchRunning)
	countRows := sqlmock.NewRows([]string{"status", "count"}).AddRow(models.OrderCompleted, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT total_orders, status FROM batches WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(lockRows)
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM orders WHERE batch_id = \$1 GROUP BY status`).
		WithArgs(int64(7)).
		WillReturnRows(countRows)
	mock.ExpectExec(`UPDATE batches SET`).
		WithArgs(2, 0, string(models.BatchCompleted), int64(7),
			string(models.BatchCompleted), string(models.BatchFailed), string(models.BatchCancelled)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.RecomputeBatchCounters(context.Background(), 7); err != nil {
		t.Fatalf("RecomputeBatchCounters() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
