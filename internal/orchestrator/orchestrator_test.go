package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

type fakeStore struct {
	batch            *models.Batch
	order            *models.Order
	orders           []*models.Order
	batchTransitions []models.BatchStatus
	orderTransitions []models.OrderStatus
}

func (f *fakeStore) GetBatch(ctx context.Context, id int64) (*models.Batch, error) { return f.batch, nil }

func (f *fakeStore) GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error) {
	if statusFilter == nil {
		return f.orders, nil
	}
	var out []*models.Order
	for _, o := range f.orders {
		if o.Status == *statusFilter {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	if f.order == nil {
		return nil, storage.ErrNoOrder
	}
	return f.order, nil
}

func (f *fakeStore) TransitionBatch(ctx context.Context, batchID int64, from []models.BatchStatus, to models.BatchStatus, startedAtNow, finishedAtNow bool) (bool, error) {
	f.batchTransitions = append(f.batchTransitions, to)
	return true, nil
}

func (f *fakeStore) TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch storage.OrderPatch) (bool, error) {
	f.orderTransitions = append(f.orderTransitions, to)
	return true, nil
}

func (f *fakeStore) BatchStats(ctx context.Context, batchID int64) (*models.BatchStats, error) {
	return &models.BatchStats{BatchID: batchID, Total: 5}, nil
}

func (f *fakeStore) SystemStats(ctx context.Context) (*models.SystemStats, error) {
	return &models.SystemStats{TotalBatches: 1}, nil
}

type fakeQueue struct {
	enqueued int
	revoked  []bool
}

func (f *fakeQueue) Enqueue(ctx context.Context, lane queue.Lane, name queue.TaskName, orderID, batchID int64, opts queue.TaskOptions) (string, error) {
	f.enqueued++
	return fmt.Sprintf("task-%d", orderID), nil
}

func (f *fakeQueue) Revoke(ctx context.Context, taskID string, terminate bool) error {
	f.revoked = append(f.revoked, terminate)
	return nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func taskIDPtr(s string) *string { return &s }

func TestStartBatch_EnqueuesDispatcher(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}

	o := New(store, q, nil, queue.TaskOptions{}, queue.TaskOptions{}, noopLogger())

	if err := o.StartBatch(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.enqueued != 1 {
		t.Fatalf("expected dispatcher task to be enqueued once, got %d", q.enqueued)
	}
	if store.batchTransitions[0] != models.BatchRunning {
		t.Fatalf("expected batch to transition to running, got %s", store.batchTransitions[0])
	}
}

func TestPauseBatch_RevokesPendingAndQueuedOnly(t *testing.T) {
	store := &fakeStore{orders: []*models.Order{
		{ID: 1, Status: models.OrderQueued, TaskID: taskIDPtr("t1")},
		{ID: 2, Status: models.OrderInProgress, TaskID: taskIDPtr("t2")},
	}}
	q := &fakeQueue{}

	o := New(store, q, nil, queue.TaskOptions{}, queue.TaskOptions{}, noopLogger())

	if err := o.PauseBatch(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.revoked) != 1 || q.revoked[0] != false {
		t.Fatalf("expected exactly one non-terminating revoke, got %v", q.revoked)
	}
}

func TestCancelBatch_TerminatesNonTerminalOrders(t *testing.T) {
	store := &fakeStore{orders: []*models.Order{
		{ID: 1, Status: models.OrderQueued, TaskID: taskIDPtr("t1")},
		{ID: 2, Status: models.OrderCompleted},
	}}
	q := &fakeQueue{}

	o := New(store, q, nil, queue.TaskOptions{}, queue.TaskOptions{}, noopLogger())

	if err := o.CancelBatch(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.revoked) != 1 || q.revoked[0] != true {
		t.Fatalf("expected exactly one terminating revoke, got %v", q.revoked)
	}
	if len(store.orderTransitions) != 1 || store.orderTransitions[0] != models.OrderCancelled {
		t.Fatalf("expected exactly one order to be cancelled, got %v", store.orderTransitions)
	}
}

// In-progress orders are revoked best-effort but left for the worker's own
// finish path to settle — cancel must not force-transition the row out from
// under a worker that may still be driving the browser.
func TestCancelBatch_LeavesInProgressOrdersForWorkerToFinish(t *testing.T) {
	store := &fakeStore{orders: []*models.Order{
		{ID: 1, Status: models.OrderInProgress, TaskID: taskIDPtr("t1")},
	}}
	q := &fakeQueue{}

	o := New(store, q, nil, queue.TaskOptions{}, queue.TaskOptions{}, noopLogger())

	if err := o.CancelBatch(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.revoked) != 1 || q.revoked[0] != true {
		t.Fatalf("expected a best-effort terminating revoke, got %v", q.revoked)
	}
	if len(store.orderTransitions) != 0 {
		t.Fatalf("expected no forced transition for an in-progress order, got %v", store.orderTransitions)
	}
}

func TestRetryBatchFailures_SkipsExhaustedRetries(t *testing.T) {
	store := &fakeStore{orders: []*models.Order{
		{ID: 1, Status: models.OrderFailed, RetryCount: 1, MaxRetries: 3},
		{ID: 2, Status: models.OrderFailed, RetryCount: 5, MaxRetries: 3},
	}}
	q := &fakeQueue{}

	o := New(store, q, nil, queue.TaskOptions{}, queue.TaskOptions{}, noopLogger())

	retried, err := o.RetryBatchFailures(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected 1 retried order, got %d", retried)
	}
}

func TestRetrySingleOrder_EnqueuesAndTransitions(t *testing.T) {
	store := &fakeStore{order: &models.Order{ID: 1, BatchID: 10, Status: models.OrderFailed}}
	q := &fakeQueue{}

	o := New(store, q, nil, queue.TaskOptions{}, queue.TaskOptions{}, noopLogger())

	if err := o.RetrySingleOrder(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.enqueued != 1 {
		t.Fatalf("expected order retry task to be enqueued, got %d", q.enqueued)
	}
}
